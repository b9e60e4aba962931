// Package local lays out the durable artifacts kept in the work directory
// and enforces their retention.
package local

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/metrics"
)

// Work directory subdirectories
const (
	ManifestDir = "manifests"
	DataDir     = "data"
	ReportDir   = "reports"
	SchemaDir   = "schemas"
)

// Client represents the local work directory
type Client struct {
	root      string
	retention time.Duration
	logger    *logrus.Logger
}

// NewClient creates a work directory client. An empty retention keeps
// artifacts forever.
func NewClient(cfg config.LocalConfig, logger *logrus.Logger) (*Client, error) {
	c := &Client{root: cfg.WorkDirectory, logger: logger}
	if cfg.Retention != "" {
		d, err := time.ParseDuration(cfg.Retention)
		if err != nil {
			return nil, fmt.Errorf("invalid local retention %q: %w", cfg.Retention, err)
		}
		c.retention = d
	}
	return c, nil
}

// Root returns the work directory
func (c *Client) Root() string {
	return c.root
}

// ensureDir creates and returns root/parts...
func (c *Client) ensureDir(parts ...string) (string, error) {
	dir := filepath.Join(append([]string{c.root}, parts...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return dir, nil
}

// DataPath returns the path for a table export file of database
func (c *Client) DataPath(database, fileName string) (string, error) {
	dir, err := c.ensureDir(DataDir, database)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// ReportPath returns the path for a daily snapshot report
func (c *Client) ReportPath(fileName string) (string, error) {
	dir, err := c.ensureDir(ReportDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// SchemaPath returns the path for the generated DDL of one table
func (c *Client) SchemaPath(database, table string) (string, error) {
	dir, err := c.ensureDir(SchemaDir, database)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, table+".sql"), nil
}

// ManifestPath returns the table manifest of database
func (c *Client) ManifestPath(database string) string {
	return filepath.Join(c.root, ManifestDir, database+".tables")
}

// EnforceRetention removes exported data files and reports older than the
// configured retention. Cursors, manifests and completion logs are never
// touched.
func (c *Client) EnforceRetention() error {
	if c.retention <= 0 {
		c.logger.Debug("Local artifacts set to keep forever, skipping retention enforcement")
		return nil
	}

	cutoff := time.Now().Add(-c.retention)
	for _, kind := range []string{DataDir, ReportDir} {
		dir := filepath.Join(c.root, kind)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".csv") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().After(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				c.logger.Warnf("Failed to remove expired artifact %s: %v", path, err)
				return nil
			}
			c.logger.Infof("Removed expired local artifact: %s", path)
			metrics.LocalRetentionDeletes.WithLabelValues(kind).Inc()
			return nil
		})
		if err != nil {
			return fmt.Errorf("retention walk of %s failed: %w", dir, err)
		}
	}
	return nil
}
