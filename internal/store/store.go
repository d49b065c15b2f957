package store

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the narrow seam between the services and the database. Every
// aggregate gets its own accessor; Transaction scopes a closure to one
// database transaction, and WithRolloutLock additionally serializes on
// the rollout id.
type Store interface {
	Tenant() Tenant
	Device() Device
	DeviceGroup() DeviceGroup
	RegistrationToken() RegistrationToken
	DeviceApiKey() DeviceApiKey
	AuthAttempt() AuthAttempt
	Telemetry() Telemetry
	HealthScore() HealthScore
	Bundle() Bundle
	DesiredState() DesiredState
	ReportedStatus() ReportedStatus
	Rollout() Rollout
	Alert() Alert
	Notification() Notification

	Transaction(ctx context.Context, fn func(Store) error) error
	WithRolloutLock(ctx context.Context, rolloutID uuid.UUID, fn func(Store) error) error
	InitialMigration() error
	CheckHealth(ctx context.Context) error
}

type DataStore struct {
	db  *gorm.DB
	log logrus.FieldLogger

	tenant            Tenant
	device            Device
	deviceGroup       DeviceGroup
	registrationToken RegistrationToken
	deviceApiKey      DeviceApiKey
	authAttempt       AuthAttempt
	telemetry         Telemetry
	healthScore       HealthScore
	bundle            Bundle
	desiredState      DesiredState
	reportedStatus    ReportedStatus
	rollout           Rollout
	alert             Alert
	notification      Notification
}

var _ Store = (*DataStore)(nil)

func NewStore(db *gorm.DB, log logrus.FieldLogger) *DataStore {
	return &DataStore{
		db:                db,
		log:               log,
		tenant:            NewTenant(db, log),
		device:            NewDevice(db, log),
		deviceGroup:       NewDeviceGroup(db, log),
		registrationToken: NewRegistrationToken(db, log),
		deviceApiKey:      NewDeviceApiKey(db, log),
		authAttempt:       NewAuthAttempt(db, log),
		telemetry:         NewTelemetry(db, log),
		healthScore:       NewHealthScore(db, log),
		bundle:            NewBundle(db, log),
		desiredState:      NewDesiredState(db, log),
		reportedStatus:    NewReportedStatus(db, log),
		rollout:           NewRollout(db, log),
		alert:             NewAlert(db, log),
		notification:      NewNotification(db, log),
	}
}

func (s *DataStore) Tenant() Tenant                       { return s.tenant }
func (s *DataStore) Device() Device                       { return s.device }
func (s *DataStore) DeviceGroup() DeviceGroup             { return s.deviceGroup }
func (s *DataStore) RegistrationToken() RegistrationToken { return s.registrationToken }
func (s *DataStore) DeviceApiKey() DeviceApiKey           { return s.deviceApiKey }
func (s *DataStore) AuthAttempt() AuthAttempt             { return s.authAttempt }
func (s *DataStore) Telemetry() Telemetry                 { return s.telemetry }
func (s *DataStore) HealthScore() HealthScore             { return s.healthScore }
func (s *DataStore) Bundle() Bundle                       { return s.bundle }
func (s *DataStore) DesiredState() DesiredState           { return s.desiredState }
func (s *DataStore) ReportedStatus() ReportedStatus       { return s.reportedStatus }
func (s *DataStore) Rollout() Rollout                     { return s.rollout }
func (s *DataStore) Alert() Alert                         { return s.alert }
func (s *DataStore) Notification() Notification           { return s.notification }

// Transaction runs fn against a Store bound to a single database
// transaction; any error rolls the whole transaction back.
func (s *DataStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx, s.log))
	})
}

// WithRolloutLock serializes concurrent transitions on one rollout. On
// postgres it takes a transaction-scoped advisory lock keyed by a hash
// of the rollout id; on sqlite the database is single-writer already.
func (s *DataStore) WithRolloutLock(ctx context.Context, rolloutID uuid.UUID, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			h := fnv.New64a()
			_, _ = h.Write([]byte(rolloutID.String()))
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(h.Sum64())).Error; err != nil {
				return sberrors.ErrorFromGormError(err)
			}
		}
		return fn(NewStore(tx, s.log))
	})
}

func (s *DataStore) InitialMigration() error {
	stores := []interface{ InitialMigration() error }{
		s.tenant, s.device, s.deviceGroup, s.registrationToken,
		s.deviceApiKey, s.authAttempt, s.telemetry, s.healthScore,
		s.bundle, s.desiredState, s.reportedStatus, s.rollout,
		s.alert, s.notification,
	}
	for _, st := range stores {
		if err := st.InitialMigration(); err != nil {
			return err
		}
	}
	return nil
}

func (s *DataStore) CheckHealth(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func InitDB(cfg *config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	var dia gorm.Dialector

	if cfg.Database.Type == "pgsql" {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d",
			cfg.Database.Hostname,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
			cfg.Database.Port,
		)
		dia = postgres.Open(dsn)
	} else {
		dia = sqlite.Open(cfg.Database.Name)
	}

	newDB, err := gorm.Open(dia, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := newDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to configure connections: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if cfg.Database.Type == "pgsql" {
		var version string
		if result := newDB.Raw("SELECT version()").Scan(&version); result.Error != nil {
			return nil, result.Error
		}
		log.Infof("PostgreSQL information: '%s'", version)
	}

	return newDB, nil
}
