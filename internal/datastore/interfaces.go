// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	Save(rec *Recording) error
	Get(id uint) (*Recording, error)
	GetByFileName(name string) (*Recording, error)
	List(opts ListOptions) ([]Recording, error)
	Delete(id uint) error

	FindByV2SStatus(statuses ...V2SStatus) ([]Recording, error)
	FindPendingOSM(includeFailed bool) ([]Recording, error)
	UpdateV2S(id uint, status V2SStatus, result, errMsg string) error
	UpdateOSM(id uint, status OsmStatus, result, errMsg string) error
	ResetStale() (int64, error)
	Counts() (StatusCounts, error)
}

// DataStore implements Interface on top of a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New returns the store selected by settings, or nil when no output is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// GetLogger returns the datastore module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

func gormConfig(debug bool) *gorm.Config {
	slow := 200 * time.Millisecond
	if debug {
		slow = 50 * time.Millisecond
	}
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slow),
	}
}

// performAutoMigration migrates the schema and logs the connection.
func performAutoMigration(db *gorm.DB, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Recording{}); err != nil {
		return dbError(err, "auto_migrate").Context("db_type", dbType).Build()
	}

	GetLogger().Info("database initialized",
		logger.String("type", dbType),
		logger.String("connection", logger.RedactSensitiveData(connectionInfo)))

	return nil
}

func dbError(err error, operation string) *errors.ErrorBuilder {
	category := errors.CategoryDatabase
	if errors.Is(err, gorm.ErrRecordNotFound) {
		category = errors.CategoryNotFound
	}
	return errors.New(err).
		Component("datastore").
		Category(category).
		Context("operation", operation)
}

func (ds *DataStore) ready() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// Save validates and inserts a new recording.
func (ds *DataStore) Save(rec *Recording) error {
	if err := ds.ready(); err != nil {
		return err
	}
	if rec.V2SStatus == "" {
		rec.V2SStatus = V2SNotStarted
	}
	if rec.OsmStatus == "" {
		rec.OsmStatus = OsmNotStarted
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := ds.DB.Create(rec).Error; err != nil {
		return dbError(err, "save_recording").Context("file_name", rec.FileName).Build()
	}
	return nil
}

// Get retrieves a recording by ID.
func (ds *DataStore) Get(id uint) (*Recording, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}

	var rec Recording
	if err := ds.DB.First(&rec, id).Error; err != nil {
		return nil, dbError(fmt.Errorf("getting recording %d: %w", id, err), "get_recording").Build()
	}
	return &rec, nil
}

// GetByFileName retrieves a recording by its audio file name.
func (ds *DataStore) GetByFileName(name string) (*Recording, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}

	var rec Recording
	if err := ds.DB.Where("file_name = ?", name).First(&rec).Error; err != nil {
		return nil, dbError(fmt.Errorf("getting recording %q: %w", name, err), "get_recording_by_name").Build()
	}
	return &rec, nil
}

// List returns recordings newest first unless opts.Ascending is set.
func (ds *DataStore) List(opts ListOptions) ([]Recording, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}

	order := "recorded_at DESC, id DESC"
	if opts.Ascending {
		order = "recorded_at ASC, id ASC"
	}

	query := ds.DB.Model(&Recording{}).Order(order)
	if opts.V2S != "" {
		query = query.Where("v2s_status = ?", opts.V2S)
	}
	if opts.OSM != "" {
		query = query.Where("osm_status = ?", opts.OSM)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var recs []Recording
	if err := query.Find(&recs).Error; err != nil {
		return nil, dbError(err, "list_recordings").Build()
	}
	return recs, nil
}

// Delete removes a recording row. The audio file is left to the caller.
func (ds *DataStore) Delete(id uint) error {
	if err := ds.ready(); err != nil {
		return err
	}

	result := ds.DB.Delete(&Recording{}, id)
	if result.Error != nil {
		return dbError(result.Error, "delete_recording").Build()
	}
	if result.RowsAffected == 0 {
		return dbError(fmt.Errorf("recording %d: %w", id, gorm.ErrRecordNotFound), "delete_recording").Build()
	}
	return nil
}

// FindByV2SStatus returns recordings in any of the given transcription states, oldest first.
func (ds *DataStore) FindByV2SStatus(statuses ...V2SStatus) ([]Recording, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}

	var recs []Recording
	err := ds.DB.Where("v2s_status IN ?", statuses).
		Order("recorded_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, dbError(err, "find_by_v2s_status").Build()
	}
	return recs, nil
}

// FindPendingOSM returns recordings with note text that have not been uploaded,
// oldest first. includeFailed adds rows whose previous upload failed.
func (ds *DataStore) FindPendingOSM(includeFailed bool) ([]Recording, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}

	osm := []OsmStatus{OsmNotStarted}
	if includeFailed {
		osm = append(osm, OsmError)
	}

	var recs []Recording
	err := ds.DB.Where("osm_status IN ? AND v2s_status IN ?", osm, []V2SStatus{V2SCompleted, V2SFallback}).
		Order("recorded_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, dbError(err, "find_pending_osm").Build()
	}
	return recs, nil
}

// UpdateV2S moves a recording to a new transcription status.
//
// COMPLETED and FALLBACK store result, ERROR stores errMsg, and PROCESSING
// leaves the previous result untouched so it can be restored.
func (ds *DataStore) UpdateV2S(id uint, status V2SStatus, result, errMsg string) error {
	if err := ds.ready(); err != nil {
		return err
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var rec Recording
		if err := tx.First(&rec, id).Error; err != nil {
			return dbError(fmt.Errorf("recording %d: %w", id, err), "update_v2s").Build()
		}

		if !rec.V2SStatus.CanTransition(status) {
			return transitionError("transcription", string(rec.V2SStatus), string(status), id)
		}

		updates := map[string]any{"v2s_status": status}
		switch status {
		case V2SCompleted:
			updates["v2s_result"] = result
			updates["error_message"] = ""
		case V2SFallback:
			updates["v2s_result"] = result
			updates["error_message"] = errMsg
		case V2SError:
			updates["v2s_result"] = ""
			updates["error_message"] = errMsg
		case V2SNotStarted, V2SDisabled:
			updates["v2s_result"] = result
			updates["error_message"] = errMsg
		}
		// error_message is shared with the OSM pipeline, which still needs it
		if msg, _ := updates["error_message"].(string); msg == "" && rec.keepsOSMMessage() {
			delete(updates, "error_message")
		}

		rec.V2SStatus = status
		applyStringUpdate(&rec.V2SResult, updates, "v2s_result")
		applyStringUpdate(&rec.ErrorMessage, updates, "error_message")
		if err := rec.Validate(); err != nil {
			return err
		}

		if err := tx.Model(&Recording{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return dbError(err, "update_v2s").Build()
		}
		return nil
	})
}

// UpdateOSM moves a recording to a new upload status.
func (ds *DataStore) UpdateOSM(id uint, status OsmStatus, result, errMsg string) error {
	if err := ds.ready(); err != nil {
		return err
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var rec Recording
		if err := tx.First(&rec, id).Error; err != nil {
			return dbError(fmt.Errorf("recording %d: %w", id, err), "update_osm").Build()
		}

		if !rec.OsmStatus.CanTransition(status) {
			return transitionError("OSM", string(rec.OsmStatus), string(status), id)
		}

		updates := map[string]any{"osm_status": status}
		switch status {
		case OsmCompleted:
			updates["osm_result"] = result
		case OsmError:
			updates["osm_result"] = result
			updates["error_message"] = errMsg
		case OsmNotStarted:
			updates["osm_result"] = result
		case OsmDisabled:
			updates["osm_result"] = result
			if errMsg != "" {
				updates["error_message"] = errMsg
			}
		}

		rec.OsmStatus = status
		applyStringUpdate(&rec.OsmResult, updates, "osm_result")
		applyStringUpdate(&rec.ErrorMessage, updates, "error_message")
		if err := rec.Validate(); err != nil {
			return err
		}

		if err := tx.Model(&Recording{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return dbError(err, "update_osm").Build()
		}
		return nil
	})
}

func applyStringUpdate(field *string, updates map[string]any, key string) {
	if v, ok := updates[key].(string); ok {
		*field = v
	}
}

func transitionError(pipeline, from, to string, id uint) error {
	return errors.Newf("illegal %s status transition %s -> %s", pipeline, from, to).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("recording_id", id).
		Build()
}

// ResetStale returns rows left in PROCESSING by an interrupted run to NOT_STARTED.
func (ds *DataStore) ResetStale() (int64, error) {
	if err := ds.ready(); err != nil {
		return 0, err
	}

	var total int64
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Recording{}).
			Where("v2s_status = ?", V2SProcessing).
			Update("v2s_status", V2SNotStarted)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected

		res = tx.Model(&Recording{}).
			Where("osm_status = ?", OsmProcessing).
			Update("osm_status", OsmNotStarted)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, dbError(err, "reset_stale").Build()
	}

	if total > 0 {
		GetLogger().Info("reset interrupted recordings", logger.Int64("rows", total))
	}
	return total, nil
}

type statusRow struct {
	Status string
	Count  int64
}

// Counts returns the number of recordings per status.
func (ds *DataStore) Counts() (StatusCounts, error) {
	counts := StatusCounts{
		V2S: make(map[V2SStatus]int64),
		OSM: make(map[OsmStatus]int64),
	}
	if err := ds.ready(); err != nil {
		return counts, err
	}

	if err := ds.DB.Model(&Recording{}).Count(&counts.Total).Error; err != nil {
		return counts, dbError(err, "count_recordings").Build()
	}

	var rows []statusRow
	if err := ds.DB.Model(&Recording{}).
		Select("v2s_status AS status, COUNT(*) AS count").
		Group("v2s_status").
		Scan(&rows).Error; err != nil {
		return counts, dbError(err, "count_v2s").Build()
	}
	for _, r := range rows {
		counts.V2S[V2SStatus(r.Status)] = r.Count
	}

	rows = rows[:0]
	if err := ds.DB.Model(&Recording{}).
		Select("osm_status AS status, COUNT(*) AS count").
		Group("osm_status").
		Scan(&rows).Error; err != nil {
		return counts, dbError(err, "count_osm").Build()
	}
	for _, r := range rows {
		counts.OSM[OsmStatus(r.Status)] = r.Count
	}

	return counts, nil
}
