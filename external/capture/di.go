package capture

import (
	"github.com/Gokias/GokiBot/internal/audio"
	"github.com/Gokias/GokiBot/internal/capture"
	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (capture.Backend, error) {
		dc := do.MustInvoke[discord.Client](i)
		newDecoder := do.MustInvoke[audio.DecoderFactory](i)
		return NewDiscordBackend(dc, newDecoder), nil
	})
}
