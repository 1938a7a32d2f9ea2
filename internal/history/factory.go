package history

import (
	"fmt"

	"github.com/ricesearch/placecal/internal/config"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// New creates a store from configuration. It returns nil for TypeNone.
func New(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeSQLite:
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeRedis:
		s, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.SetTTL(cfg.TTL)
		return s, nil
	default:
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown history type: %s", cfg.Type))
	}
}
