// Command initdb applies pending schema migrations and, optionally, seeds
// shop configuration from a YAML manifest. It is the one-shot setup step
// operators run before the server is brought up for the first time.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/certen/jd-fulfillment-bridge/internal/config"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// seedFile is the YAML shape accepted by -seed.
type seedFile struct {
	Shops []seedShop `yaml:"shops"`
}

type seedShop struct {
	ShopCode string `yaml:"shop_code"`
	ShopType string `yaml:"shop_type"` // "game" | "general"

	GameCustomerID        string `yaml:"game_customer_id"`
	GameMD5Secret         string `yaml:"game_md5_secret"`
	GameAPIURL            string `yaml:"game_api_url"`
	GameDirectCallbackURL string `yaml:"game_direct_callback_url"`
	GameCardCallbackURL   string `yaml:"game_card_callback_url"`

	GeneralVendorID    string `yaml:"general_vendor_id"`
	GeneralMD5Secret   string `yaml:"general_md5_secret"`
	GeneralAESSecret   string `yaml:"general_aes_secret"`
	GeneralCallbackURL string `yaml:"general_callback_url"`

	Card91APIURL    string `yaml:"card91_api_url"`
	Card91APIKey    string `yaml:"card91_api_key"`
	Card91APISecret string `yaml:"card91_api_secret"`
	Card91Dialect   string `yaml:"card91_dialect"` // "agiso" | "rest"

	NotifyEnabled  bool                `yaml:"notify_enabled"`
	NotifyWebhooks []seedNotifyWebhook `yaml:"notify_webhooks"`
	IsEnabled      bool                `yaml:"is_enabled"`
}

type seedNotifyWebhook struct {
	Channel string `yaml:"channel"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags)

	seedPath := flag.String("seed", "", "optional YAML file of shops to seed after migrating")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if *seedPath == "" {
		*seedPath = cfg.ShopSeedFile
	}

	dbClient, err := store.NewClient(cfg, store.WithLogger(log.New(log.Writer(), "[Store] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := dbClient.MigrateUp(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("schema migrations applied")

	if *seedPath == "" {
		return
	}

	raw, err := os.ReadFile(*seedPath)
	if err != nil {
		log.Fatalf("failed to read seed file: %v", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		log.Fatalf("failed to parse seed file: %v", err)
	}

	repos := store.NewRepositories(dbClient)
	for _, s := range seed.Shops {
		shop, err := toShop(s)
		if err != nil {
			log.Fatalf("seed shop %s: %v", s.ShopCode, err)
		}
		if existing, err := repos.Shops.FindByShopCode(ctx, shop.ShopCode); err == nil {
			log.Printf("shop %s already exists (id=%d), skipping", shop.ShopCode, existing.ID)
			continue
		}
		created, err := repos.Shops.Create(ctx, shop)
		if err != nil {
			log.Fatalf("seed shop %s: create failed: %v", s.ShopCode, err)
		}
		log.Printf("seeded shop %s (id=%d, type=%v)", created.ShopCode, created.ID, created.ShopType)
	}
}

func toShop(s seedShop) (*store.Shop, error) {
	shopType := store.ShopTypeGame
	if s.ShopType == "general" {
		shopType = store.ShopTypeGeneral
	}
	dialect := store.Card91DialectAgiso
	if s.Card91Dialect == "rest" {
		dialect = store.Card91DialectRest
	}

	webhooks := make([]store.NotifyWebhook, 0, len(s.NotifyWebhooks))
	for _, w := range s.NotifyWebhooks {
		webhooks = append(webhooks, store.NotifyWebhook{Channel: w.Channel, URL: w.URL, Secret: w.Secret})
	}

	return &store.Shop{
		ShopCode: s.ShopCode,
		ShopType: shopType,

		GameCustomerID:        s.GameCustomerID,
		GameMD5Secret:         s.GameMD5Secret,
		GameAPIURL:            s.GameAPIURL,
		GameDirectCallbackURL: s.GameDirectCallbackURL,
		GameCardCallbackURL:   s.GameCardCallbackURL,

		GeneralVendorID:    s.GeneralVendorID,
		GeneralMD5Secret:   s.GeneralMD5Secret,
		GeneralAESSecret:   s.GeneralAESSecret,
		GeneralCallbackURL: s.GeneralCallbackURL,

		Card91APIURL:    s.Card91APIURL,
		Card91APIKey:    s.Card91APIKey,
		Card91APISecret: s.Card91APISecret,
		Card91Dialect:   dialect,

		NotifyEnabled:  s.NotifyEnabled,
		NotifyWebhooks: webhooks,
		IsEnabled:      s.IsEnabled,
	}, nil
}
