package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentJobKey(t *testing.T) {
	tests := []struct {
		name string
		code string
		id   int64
		want string
	}{
		{"code present", "INV-001", 42, "pay:INV-001"},
		{"code padded with spaces", "  INV-001  ", 42, "pay:INV-001"},
		{"empty code falls back to id", "", 42, "pay:42"},
		{"whitespace-only code falls back to id", "   ", 42, "pay:42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PaymentJobKey(tt.code, tt.id))
		})
	}
}

func TestTaskValidate(t *testing.T) {
	base := func() Task {
		return Task{
			Channel:      ChannelEmail,
			ToEmail:      "payer@example.com",
			TemplateCode: "pay_3h",
			JobKey:       "pay:INV-001",
			ScheduledAt:  time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
		}
	}

	t.Run("valid email task", func(t *testing.T) {
		task := base()
		require.NoError(t, task.Validate())
	})

	t.Run("invalid channel", func(t *testing.T) {
		task := base()
		task.Channel = "carrier_pigeon"
		err := task.Validate()
		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, ErrCodeValidationInvalidChannel, appErr.Code)
	})

	t.Run("email task missing address", func(t *testing.T) {
		task := base()
		task.ToEmail = ""
		err := task.Validate()
		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, ErrCodeValidationMissingField, appErr.Code)
	})

	t.Run("whatsapp task missing phone", func(t *testing.T) {
		task := base()
		task.Channel = ChannelWhatsApp
		task.ToEmail = ""
		err := task.Validate()
		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, ErrCodeValidationMissingField, appErr.Code)
	})

	t.Run("missing job key", func(t *testing.T) {
		task := base()
		task.JobKey = ""
		require.Error(t, task.Validate())
	})

	t.Run("missing schedule", func(t *testing.T) {
		task := base()
		task.ScheduledAt = time.Time{}
		require.Error(t, task.Validate())
	})
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskQueued.Terminal())
	assert.True(t, TaskSent.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskCanceled.Terminal())
}

func TestDecodePayload(t *testing.T) {
	t.Run("valid object", func(t *testing.T) {
		p := DecodePayload([]byte(`{"name":"Ana","pay_link":"https://x"}`))
		assert.Equal(t, "Ana", p.String("name"))
		assert.Equal(t, "https://x", p.String("pay_link"))
	})

	t.Run("malformed degrades to empty map", func(t *testing.T) {
		p := DecodePayload([]byte(`{"name":`))
		require.NotNil(t, p)
		assert.Empty(t, p)
	})

	t.Run("null degrades to empty map", func(t *testing.T) {
		p := DecodePayload([]byte(`null`))
		require.NotNil(t, p)
		assert.Empty(t, p)
	})

	t.Run("empty input degrades to empty map", func(t *testing.T) {
		p := DecodePayload(nil)
		require.NotNil(t, p)
		assert.Empty(t, p)
	})
}
