package feed

import (
	"fmt"
	"log/slog"
)

// New builds the configured reference feed. refWSURLBinance/refWSURLCoinbase
// are the respective base WS endpoints from config.APIConfig; unused for
// KindNone.
func New(kind Kind, refWSURLBinance, refWSURLCoinbase, symbol string, logger *slog.Logger) (Feed, error) {
	switch kind {
	case KindBinance:
		return NewBinance(refWSURLBinance, symbol, logger), nil
	case KindCoinbase:
		return NewCoinbase(refWSURLCoinbase, symbol, logger), nil
	case KindNone:
		return NewNone(), nil
	default:
		return nil, fmt.Errorf("unknown reference feed kind: %q", kind)
	}
}
