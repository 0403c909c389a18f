package session

import (
	"github.com/Gokias/GokiBot/internal/capture"
	"github.com/Gokias/GokiBot/internal/config"
	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/repository"
	"github.com/Gokias/GokiBot/internal/transcriber"
	"github.com/Gokias/GokiBot/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		backend := do.MustInvoke[capture.Backend](i)
		engines := do.MustInvoke[*transcriber.Resolver](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return NewManager(cfg, repo, dc, backend, engines, wh), nil
	})
}
