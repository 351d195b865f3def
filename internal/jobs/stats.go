package jobs

import (
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/sirupsen/logrus"
)

// StatsTask logs how busy a relay hub is.
type StatsTask struct {
	hub      *remote.Hub
	schedule string
}

func NewStatsTask(hub *remote.Hub, schedule string) *StatsTask {
	return &StatsTask{
		hub:      hub,
		schedule: schedule,
	}
}

func (s *StatsTask) Schedule() string {
	return s.schedule
}

func (s *StatsTask) Run() {
	logrus.Infof("relay: %d connections, %d rooms", s.hub.Connections(), len(s.hub.Rooms()))
}
