package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"kostfinder/internal/config"
	"kostfinder/internal/email"
	"kostfinder/internal/storage"
)

// TaskType defines the type of a background task.
const (
	TypeEmailDelivery = "email:deliver"
	TypeImageProcess  = "image:process"
)

// Queues.
const (
	QueueDefault = "default"
	QueueImages  = "images"
)

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
}

// NewClient creates an asynq client on the same Redis as rdb.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

// EmailTaskPayload is the payload of TypeEmailDelivery.
type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Data       map[string]interface{} `json:"data"`
}

// NewEmailDeliveryTask builds an email:deliver task.
func NewEmailDeliveryTask(payload EmailTaskPayload) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task payload: %w", err)
	}
	return asynq.NewTask(TypeEmailDelivery, b, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ImageTaskPayload is the payload of TypeImageProcess.
type ImageTaskPayload struct {
	Key string `json:"key"`
}

// NewImageProcessTask builds an image:process task for a stored image.
func NewImageProcessTask(key string) (*asynq.Task, error) {
	b, err := json.Marshal(ImageTaskPayload{Key: key})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, b, asynq.Queue(QueueImages), asynq.MaxRetry(3)), nil
}

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	cfg         *config.Config
	logger      *logrus.Logger
	emailSender email.Sender
	imageStore  storage.IImageStore
}

// NewTaskProcessor wires the task handlers to their dependencies.
func NewTaskProcessor(cfg *config.Config, logger *logrus.Logger, emailSender email.Sender, imageStore storage.IImageStore) *TaskProcessor {
	return &TaskProcessor{cfg: cfg, logger: logger, emailSender: emailSender, imageStore: imageStore}
}

// SetupServer configures the asynq server and the handlers for the given
// worker roles. It returns nil when neither role is requested.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	if !isBgWorker && !isImageWorker {
		return nil, nil
	}

	queues := map[string]int{}
	mux := asynq.NewServeMux()
	if isBgWorker {
		queues[QueueDefault] = 3
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
	}
	if isImageWorker {
		queues[QueueImages] = 5
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
	}

	srv := asynq.NewServer(redisOpt(rdb), asynq.Config{
		Queues: queues,
		Logger: processor.logger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			processor.logger.WithFields(logrus.Fields{
				"task":    task.Type(),
				"payload": string(task.Payload()),
			}).WithError(err).Error("Task failed")
		}),
	})
	processor.logger.WithFields(logrus.Fields{"bg": isBgWorker, "images": isImageWorker}).Info("Task handlers registered")
	return srv, mux
}

// HandleEmailDeliveryTask renders a built-in template and sends it.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("email task without recipient: %w", asynq.SkipRetry)
	}

	data := payload.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	if _, ok := data["AppName"]; !ok {
		data["AppName"] = p.cfg.AppName
	}

	subject, body, err := email.Render(payload.TemplateID, data)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	from := p.cfg.SmtpFromAddress
	if from == "" {
		from = "noreply@example.com"
	}
	raw, err := email.Compose(from, []string{payload.To}, subject, body)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := p.emailSender.Send(ctx, []string{payload.To}, subject, raw); err != nil {
		return fmt.Errorf("failed to send %s email: %w", payload.TemplateID, err)
	}

	p.logger.WithFields(logrus.Fields{"to": payload.To, "template": payload.TemplateID}).Info("Email task processed")
	return nil
}

// HandleImageProcessTask downscales a stored image that exceeds the
// configured dimension and writes it back under the same key.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}
	log := p.logger.WithFields(logrus.Fields{"key": payload.Key, "provider": p.imageStore.Provider()})

	rc, _, err := p.imageStore.Open(ctx, payload.Key)
	if err != nil {
		if errors.Is(err, storage.ErrImageNotFound) {
			return fmt.Errorf("image %s not found: %w", payload.Key, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to open image %s: %w", payload.Key, err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", payload.Key, err)
	}

	maxBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	out, contentType, changed, err := NormalizeImage(data, p.cfg.ImageMaxDimension, maxBytes)
	if err != nil {
		if errors.Is(err, ErrImageTooLarge) || errors.Is(err, ErrImageUndecodable) {
			log.WithError(err).Warn("Image rejected")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if !changed {
		log.Debug("Image within limits, nothing to do")
		return nil
	}

	if err := p.imageStore.Replace(ctx, payload.Key, contentType, out); err != nil {
		return fmt.Errorf("failed to store processed image %s: %w", payload.Key, err)
	}
	log.WithField("bytes", len(out)).Info("Image normalised")
	return nil
}
