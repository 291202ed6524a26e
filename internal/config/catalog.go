package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogEntry maps a payment-platform price to the storefront's tier and size.
type CatalogEntry struct {
	PriceID  string `mapstructure:"priceId"`
	TierKey  string `mapstructure:"tierKey"`
	SizeKey  string `mapstructure:"sizeKey"`
	PlanName string `mapstructure:"planName"`
}

type Catalog struct {
	Prices []CatalogEntry `mapstructure:"prices"`
}

// Lookup returns the entry registered for priceID.
func (c Catalog) Lookup(priceID string) (CatalogEntry, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return CatalogEntry{}, false
	}
	for _, entry := range c.Prices {
		if entry.PriceID == priceID {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

// NewStaticCatalogHolder returns a holder that never reloads.
func NewStaticCatalogHolder(catalog Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	log = log.Named("config.catalog")

	v := viper.New()
	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/reconciler")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("catalog file not found, price fallback disabled")
		return NewStaticCatalogHolder(Catalog{}), nil
	}

	var catalog Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, err
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}

	holder := NewStaticCatalogHolder(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Catalog
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("catalog reload failed", zap.Error(err))
			return
		}
		if err := validateCatalog(updated); err != nil {
			log.Warn("invalid catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name), zap.Int("prices", len(updated.Prices)))
	})

	return holder, nil
}

func (h *CatalogHolder) Get() Catalog {
	return h.current.Load().(Catalog)
}

func validateCatalog(catalog Catalog) error {
	seen := make(map[string]struct{}, len(catalog.Prices))
	for _, entry := range catalog.Prices {
		if strings.TrimSpace(entry.PriceID) == "" {
			return errors.New("catalog.prices: priceId is required")
		}
		if _, ok := seen[entry.PriceID]; ok {
			return errors.New("catalog.prices: duplicate priceId " + entry.PriceID)
		}
		seen[entry.PriceID] = struct{}{}
	}
	return nil
}
