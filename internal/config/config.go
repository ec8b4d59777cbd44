// Package config reads the sync service configuration from environment
// variables, with development defaults for everything that is not a
// credential.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	Temporal TemporalConfig
	Database DatabaseConfig
	CRM      CRMConfig
	Layer    LayerConfig
	Sync     SyncConfig
}

// TemporalConfig holds the workflow service connection.
type TemporalConfig struct {
	HostPort  string
	Namespace string
}

// DatabaseConfig holds the relational mirror connection and tables.
type DatabaseConfig struct {
	DSN          string
	RawTable     string
	ViewerTable  string
	ArchiveTable string
}

// CRMConfig holds the CRM login credentials.
type CRMConfig struct {
	LoginURL      string
	Username      string
	Password      string
	SecurityToken string
	ClientID      string
	ClientSecret  string
}

// LayerConfig holds the public feature layer connection and geometry
// parameters.
type LayerConfig struct {
	PortalURL                   string
	LayerURL                    string
	Username                    string
	Password                    string
	LayerType                   string
	InSRID                      int
	OutSRID                     int
	TreatMissingResultAsSuccess bool
}

// SyncConfig holds run-shape settings shared by all sync jobs.
type SyncConfig struct {
	TimeZone                string
	DateColumn              string
	BatchSize               uint
	StagingDir              string
	StagingBucket           string
	LegacyAgencyStatusNotes bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("TEMPORAL_HOST_PORT", "localhost:7233")
	v.SetDefault("TEMPORAL_NAMESPACE", "default")
	v.SetDefault("DB_RAW_TABLE", "public_cases_fc")
	v.SetDefault("DB_VIEWER_TABLE", "public_cases_viewer")
	v.SetDefault("DB_ARCHIVE_TABLE", "public_cases_archive")
	v.SetDefault("CRM_LOGIN_URL", "https://login.salesforce.com")
	v.SetDefault("LAYER_PORTAL_URL", "https://www.arcgis.com")
	v.SetDefault("LAYER_GEOMETRY_TYPE", "esriGeometryPoint")
	v.SetDefault("LAYER_IN_SRID", 4326)
	v.SetDefault("LAYER_OUT_SRID", 4326)
	v.SetDefault("SYNC_TIME_ZONE", "America/New_York")
	v.SetDefault("SYNC_DATE_COLUMN", "LastModifiedDate")
	v.SetDefault("SYNC_BATCH_SIZE", 2000)

	v.AutomaticEnv()

	cfg := &Config{
		Temporal: TemporalConfig{
			HostPort:  v.GetString("TEMPORAL_HOST_PORT"),
			Namespace: v.GetString("TEMPORAL_NAMESPACE"),
		},
		Database: DatabaseConfig{
			DSN:          v.GetString("DB_DSN"),
			RawTable:     v.GetString("DB_RAW_TABLE"),
			ViewerTable:  v.GetString("DB_VIEWER_TABLE"),
			ArchiveTable: v.GetString("DB_ARCHIVE_TABLE"),
		},
		CRM: CRMConfig{
			LoginURL:      v.GetString("CRM_LOGIN_URL"),
			Username:      v.GetString("CRM_USERNAME"),
			Password:      v.GetString("CRM_PASSWORD"),
			SecurityToken: v.GetString("CRM_SECURITY_TOKEN"),
			ClientID:      v.GetString("CRM_CLIENT_ID"),
			ClientSecret:  v.GetString("CRM_CLIENT_SECRET"),
		},
		Layer: LayerConfig{
			PortalURL:                   v.GetString("LAYER_PORTAL_URL"),
			LayerURL:                    v.GetString("LAYER_URL"),
			Username:                    v.GetString("LAYER_USERNAME"),
			Password:                    v.GetString("LAYER_PASSWORD"),
			LayerType:                   v.GetString("LAYER_GEOMETRY_TYPE"),
			InSRID:                      v.GetInt("LAYER_IN_SRID"),
			OutSRID:                     v.GetInt("LAYER_OUT_SRID"),
			TreatMissingResultAsSuccess: v.GetBool("LAYER_TREAT_MISSING_RESULT_AS_SUCCESS"),
		},
		Sync: SyncConfig{
			TimeZone:                v.GetString("SYNC_TIME_ZONE"),
			DateColumn:              v.GetString("SYNC_DATE_COLUMN"),
			BatchSize:               v.GetUint("SYNC_BATCH_SIZE"),
			StagingDir:              v.GetString("SYNC_STAGING_DIR"),
			StagingBucket:           v.GetString("SYNC_STAGING_BUCKET"),
			LegacyAgencyStatusNotes: v.GetBool("SYNC_LEGACY_AGENCY_STATUS_NOTES"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.CRM.Username == "" {
		return fmt.Errorf("CRM_USERNAME is required")
	}
	if c.CRM.ClientID == "" || c.CRM.ClientSecret == "" {
		return fmt.Errorf("CRM_CLIENT_ID and CRM_CLIENT_SECRET are required")
	}
	if c.Layer.LayerURL == "" {
		return fmt.Errorf("LAYER_URL is required")
	}
	if c.Sync.BatchSize == 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be greater than 0")
	}
	return nil
}
