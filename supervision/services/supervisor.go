package services

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"sitewatch/supervision/access"
	"sitewatch/supervision/auth"
	"sitewatch/supervision/hierarchy"
	"sitewatch/supervision/storage"
	"sitewatch/supervision/telemetry"
	"sitewatch/utils"
)

type Supervisor struct {
	user     UserService
	role     RoleService
	site     SiteService
	building BuildingService
	floor    FloorService
	device   DeviceService
	access   AccessService
	maps     MapService
	overview OverviewService

	db      *gorm.DB
	storage storage.Storage
	stop    chan bool
}

func NewSupervisor(db *gorm.DB, store storage.Storage, userAuth auth.IdentityProvider) Supervisor {
	grants := access.NewStore()
	aggregator := hierarchy.NewAggregator(grants)

	return Supervisor{
		user:     UserService{db: db, userAuth: userAuth, grants: grants},
		role:     RoleService{db: db, userAuth: userAuth},
		site:     SiteService{db: db, userAuth: userAuth, aggregator: aggregator},
		building: BuildingService{db: db, userAuth: userAuth},
		floor:    FloorService{db: db, userAuth: userAuth},
		device:   DeviceService{db: db, userAuth: userAuth},
		access:   AccessService{db: db, userAuth: userAuth, grants: grants},
		maps:     MapService{db: db, userAuth: userAuth, storage: store},
		overview: OverviewService{db: db, userAuth: userAuth, aggregator: aggregator},

		db:      db,
		storage: store,
		stop:    make(chan bool, 1),
	}
}

func (s *Supervisor) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", s.user.Routes())
	r.Mount("/role", s.role.Routes())
	r.Mount("/site", s.site.Routes())
	r.Mount("/building", s.building.Routes())
	r.Mount("/floor", s.floor.Routes())
	r.Mount("/device", s.device.Routes())
	r.Mount("/access", s.access.Routes())
	r.Mount("/maps", s.maps.Routes())
	r.Mount("/overview", s.overview.Routes())

	r.Handle("/metrics", telemetry.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}

func (s *Supervisor) updateStorageMetrics() {
	usage, err := s.storage.Usage()
	if err != nil {
		slog.Error("storage sync: error reading disk usage", "error", err)
		return
	}
	telemetry.StorageFreeBytes.Set(float64(usage.FreeBytes))
	telemetry.StorageTotalBytes.Set(float64(usage.TotalBytes))
}

// StorageUsageSync periodically refreshes the disk usage gauges for the map
// image volume until StopStorageUsageSync is called.
func (s *Supervisor) StorageUsageSync(interval time.Duration) {
	slog.Info("storage sync: starting")
	s.updateStorageMetrics()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateStorageMetrics()
		case <-s.stop:
			slog.Info("storage sync: process stopped")
			return
		}
	}
}

func (s *Supervisor) StopStorageUsageSync() {
	close(s.stop)
}
