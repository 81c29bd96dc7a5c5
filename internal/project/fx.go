package project

import (
	"github.com/lineagelab/eventline/internal/project/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("project.store",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideViewings),
)
