// Package app wires configuration into the services shared by the server and
// worker binaries.
package app

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/channel"
	"github.com/unclebandit/followup-engine/internal/config"
	"github.com/unclebandit/followup-engine/internal/events"
	"github.com/unclebandit/followup-engine/internal/generator"
	"github.com/unclebandit/followup-engine/internal/repository"
	"github.com/unclebandit/followup-engine/internal/service"
)

type Repositories struct {
	Senders    *repository.SenderRepository
	Sequences  *repository.SequenceRepository
	Messages   *repository.MessageRepository
	Prospects  *repository.ProspectRepository
	Deliveries *repository.DeliveryRepository
	Events     *repository.EventRepository
	Ownership  *repository.OwnershipRepository
}

func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Senders:    &repository.SenderRepository{DB: db},
		Sequences:  &repository.SequenceRepository{DB: db},
		Messages:   &repository.MessageRepository{DB: db},
		Prospects:  &repository.ProspectRepository{DB: db},
		Deliveries: &repository.DeliveryRepository{DB: db},
		Events:     &repository.EventRepository{DB: db},
		Ownership:  &repository.OwnershipRepository{DB: db},
	}
}

// Providers registers every channel provider that has credentials.
func Providers(cfg config.Config, log *zap.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	sg := cfg.Providers.Email.SendGrid
	if sg.APIKey != "" {
		registry.Register(channel.NewSendGridProvider(sg))
	} else {
		log.Warn("sendgrid not configured, email sends are disabled")
	}
	tw := cfg.Providers.SMS.Twilio
	if tw.Timeout <= 0 {
		tw.Timeout = cfg.ProviderTimeout
	}
	if tw.AccountSID != "" && tw.AuthToken != "" {
		registry.Register(channel.NewTwilioProvider(tw, cfg.WebhookURL(channel.TwilioName)))
	} else {
		log.Warn("twilio not configured, sms sends are disabled")
	}
	return registry
}

// Content uses the remote copywriter when configured and the built-in
// templates otherwise.
func Content(cfg config.Config) generator.ContentGenerator {
	if cfg.ContentAPIURL != "" {
		return generator.NewHTTPContent(cfg.ContentAPIURL, cfg.ContentAPIKey, cfg.GenerationTimeout)
	}
	return generator.TemplateContent{}
}

// Services holds the wired domain services.
type Services struct {
	Repos      *Repositories
	Providers  *channel.Registry
	Ownership  *service.Ownership
	Dispatcher *service.Dispatcher
	Reconciler *service.Reconciler
	Sequences  *service.SequenceService
	Deliveries *service.DeliveryQuery
}

func NewServices(cfg config.Config, db *sql.DB, sink events.Sink, log *zap.Logger) *Services {
	repos := NewRepositories(db)
	registry := Providers(cfg, log)
	ownership := &service.Ownership{Repo: repos.Ownership}
	if sink == nil {
		sink = events.NopSink{}
	}

	gen := &generator.Generator{
		Sequences:   repos.Sequences,
		Messages:    repos.Messages,
		Content:     Content(cfg),
		Logger:      log.Named("generator"),
		SlotTimeout: cfg.GenerationTimeout,
	}

	return &Services{
		Repos:     repos,
		Providers: registry,
		Ownership: ownership,
		Dispatcher: &service.Dispatcher{
			Messages:        repos.Messages,
			Sequences:       repos.Sequences,
			Senders:         repos.Senders,
			Prospects:       repos.Prospects,
			Deliveries:      repos.Deliveries,
			Providers:       registry,
			Ownership:       ownership,
			Logger:          log.Named("dispatcher"),
			Timeout:         cfg.ProviderTimeout,
			TrackingEnabled: true,
		},
		Reconciler: &service.Reconciler{
			Providers:  registry,
			Deliveries: repos.Deliveries,
			Events:     repos.Events,
			Prospects:  repos.Prospects,
			Sink:       sink,
			Logger:     log.Named("reconciler"),
		},
		Sequences: &service.SequenceService{
			Senders:    repos.Senders,
			Sequences:  repos.Sequences,
			Messages:   repos.Messages,
			Deliveries: repos.Deliveries,
			Events:     repos.Events,
			Generator:  gen,
			Ownership:  ownership,
			Logger:     log.Named("sequences"),
			Timeout:    cfg.GenerationTimeout * time.Duration(generator.MaxMessages),
		},
		Deliveries: &service.DeliveryQuery{
			Deliveries: repos.Deliveries,
			Events:     repos.Events,
			Ownership:  ownership,
		},
	}
}
