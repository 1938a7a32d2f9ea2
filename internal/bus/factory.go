package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/placecal/internal/config"
	"github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

// Bus types.
const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeKafka  = "kafka"
)

// NewBus creates a Bus from configuration. It returns nil when events are
// disabled (type none and no event log). A configured event log wraps the
// chosen bus in a LoggedBus.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var inner Bus

	switch strings.ToLower(cfg.Type) {
	case TypeNone, "":
	case TypeMemory:
		inner = NewMemoryBus(log)
	case TypeKafka:
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}
		kb, err := NewKafkaBus(KafkaConfig{Brokers: brokers})
		if err != nil {
			return nil, err
		}
		inner = kb
	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLogPath == "" {
		return inner, nil
	}

	el, err := NewEventLogger(cfg.EventLogPath)
	if err != nil {
		if inner != nil {
			inner.Close()
		}
		return nil, err
	}
	return NewLoggedBus(inner, el, log), nil
}
