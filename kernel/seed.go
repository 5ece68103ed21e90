package kernel

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/matthewhartstonge/argon2"
	"github.com/shopspring/decimal"
	"github.com/rs/zerolog/log"
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SeedAdmin generates an admin password when none is configured.
func (art *AppRuntime) SeedAdmin() error {
	if art.AdminPasswordHash != "" {
		return nil
	}

	password, err := randomHex(12)
	if err != nil {
		return err
	}
	argon := argon2.DefaultConfig()
	hash, err := argon.HashEncoded([]byte(password))
	if err != nil {
		return err
	}
	art.AdminPasswordHash = string(hash)
	log.Warn().Msgf(" * ADMIN_PASSWORD_HASH not set, generated admin credentials %s:%s", art.AdminUsername, password)
	return nil
}

// SeedDevelopment adds a reseller and a package to an empty in-memory store so the API can
// be tried locally. Its key is printed once.
func (art *AppRuntime) SeedDevelopment(ctx context.Context) error {
	mem, ok := art.Store.(*store.MemoryStore)
	if !ok {
		return nil
	}
	if _, err := mem.GetReseller(ctx, 1); err == nil {
		return nil
	}

	key, err := randomHex(24)
	if err != nil {
		return err
	}
	r := models.Reseller{
		TenantID:      "dev",
		ResellerType:  "demo",
		Name:          "Demo Reseller",
		PanelUsername: "demo",
		ApiKeyHash:    ApiKeyHash(key),
	}
	r.ID = 1
	mem.AddReseller(r)

	pkg := models.Package{TenantID: r.TenantID, Name: "Starter", Credits: 30, Amount: decimal.RequireFromString("25.90"), Active: true}
	pkg.ID = 1
	mem.AddPackage(pkg)
	log.Warn().Msgf(" * Created development reseller %q with api key %s", r.Name, key)
	return nil
}
