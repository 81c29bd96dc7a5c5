package commits

import "go.uber.org/fx"

var Module = fx.Module("commits.source",
	fx.Provide(NewHTTPSource),
)
