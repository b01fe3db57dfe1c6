package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// MockEmailTTL is how long a captured email stays readable.
const MockEmailTTL = 5 * time.Minute

// MockEmailKey is where RedisSender keeps the last email of one kind sent to one address.
func MockEmailKey(to, templateID string) string {
	return fmt.Sprintf("mockemail:%s:%s", to, templateID)
}

// RedisSender captures emails in Redis so integration tests can read them back.
type RedisSender struct {
	client *redis.Client
	from   string
	logger *logrus.Logger
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client, from string, logger *logrus.Logger) Sender {
	return &RedisSender{client: client, from: from, logger: logger}
}

// Send stores a JSON summary of the email keyed by recipient and template.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	templateID := TemplateForSubject(subject)

	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	jsonData, err := json.Marshal(map[string]interface{}{
		"to":          strings.Join(to, ", "),
		"from":        s.from,
		"subject":     subject,
		"body":        string(rawMessage),
		"sent_at":     time.Now().UTC().Format(time.RFC3339Nano),
		"template_id": templateID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := MockEmailKey(primaryTo, templateID)
	if err := s.client.Set(ctx, key, jsonData, MockEmailTTL).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	s.logger.WithFields(logrus.Fields{"key": key, "subject": subject}).Debug("Mock email stored in Redis")
	return nil
}
