package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	FieldComponent    = "component"
	FieldIdentity     = "identity"
	FieldSubscription = "subscription_id"
	FieldEventType    = "event_type"
	FieldMetric       = "metric"
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// EventFields describes a hub event. Empty values are skipped so anonymous
// events do not log an empty identity.
func EventFields(eventType, identity, subscription string) []zap.Field {
	return StringFields(
		StringField{Key: FieldEventType, Value: eventType},
		StringField{Key: FieldIdentity, Value: identity},
		StringField{Key: FieldSubscription, Value: subscription},
	)
}

// WithAIFields attaches the AI provider and model to the provided logger.
func WithAIFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}
