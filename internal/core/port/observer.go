package port

import (
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
)

type SampleObserver interface {
	ObserveSample(snapshot *domain.RegisterSnapshot, duration time.Duration)
}
