package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/brokergw/internal/config"
	"github.com/alanyoungcy/brokergw/internal/crypto"
	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/alanyoungcy/brokergw/internal/platform/paper"
	"github.com/alanyoungcy/brokergw/internal/platform/wsvenue"
)

// paperAccount names the simulated account in lock keys and redis prefixes.
const paperAccount = "paper"

// buildVenue selects the venue session for the configured mode and returns it
// with the account name it trades.
func buildVenue(cfg *config.Config, logger *slog.Logger) (domain.VenueSession, string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "live":
		v, err := liveVenue(cfg, logger)
		return v, cfg.Venue.Account, err
	case "paper":
		return paperVenue(cfg, logger), paperAccount, nil
	default:
		return nil, "", fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
}

// liveVenue connects to a real gateway. The API secret is decrypted here so
// it never sits in the config struct longer than startup.
func liveVenue(cfg *config.Config, logger *slog.Logger) (*wsvenue.Client, error) {
	var auth *crypto.HMACAuth
	if cfg.Venue.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.Venue.APISecret,
			EncryptedPath: cfg.Venue.EncryptedSecretPath,
			Password:      cfg.Venue.SecretPassword,
		})
		if err != nil {
			return nil, err
		}
		auth = &crypto.HMACAuth{Key: cfg.Venue.APIKey, Secret: secret}
	}
	logger.Info("venue: live gateway",
		slog.String("url", cfg.Venue.URL),
		slog.String("account", cfg.Venue.Account),
		slog.Bool("authenticated", auth != nil),
	)
	return wsvenue.NewClient(wsvenue.Config{
		URL:              cfg.Venue.URL,
		Account:          cfg.Venue.Account,
		Auth:             auth,
		HandshakeTimeout: cfg.Venue.HandshakeTimeout.Duration,
	}, logger), nil
}

func paperVenue(cfg *config.Config, logger *slog.Logger) *paper.Venue {
	logger.Info("venue: paper simulation",
		slog.String("currency", cfg.Paper.Currency),
		slog.String("starting_cash", cfg.Paper.StartingCash.String()),
		slog.Int("quotes", len(cfg.Paper.Quotes)),
	)
	quotes := make(map[string]decimal.Decimal, len(cfg.Paper.Quotes))
	for sym, px := range cfg.Paper.Quotes {
		quotes[strings.ToUpper(sym)] = px
	}
	return paper.New(paper.Config{
		Currency:     cfg.Paper.Currency,
		StartingCash: cfg.Paper.StartingCash,
		Quotes:       quotes,
		Commission:   cfg.Paper.Commission,
		PartialFills: cfg.Paper.PartialFills,
		FirstOrderID: cfg.Paper.FirstOrderID,
	}, logger)
}

// baseCurrency is the currency cash is reported in when a venue omits it.
func baseCurrency(cfg *config.Config) string {
	if strings.EqualFold(cfg.Mode, "paper") {
		return cfg.Paper.Currency
	}
	return cfg.Venue.BaseCurrency
}
