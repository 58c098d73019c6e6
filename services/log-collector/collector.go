package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"meteo-dashboard/services/internal/logging"
)

// ErrBadTopic is returned for topics that do not name a service.
var ErrBadTopic = errors.New("bad log topic")

// serviceName also keeps names usable as file names.
var serviceName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Collector appends forwarded log lines to one rotated file per service.
type Collector struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	files map[string]io.WriteCloser
}

// NewCollector writes into dir, which must exist.
func NewCollector(dir string, logger *slog.Logger) *Collector {
	return &Collector{dir: dir, logger: logger, files: make(map[string]io.WriteCloser)}
}

// Handle stores one line published on <prefix>/<service>.
func (c *Collector) Handle(topic string, payload []byte) error {
	service, err := serviceFromTopic(topic)
	if err != nil {
		return err
	}

	line := payload
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append(make([]byte, 0, len(payload)+1), payload...), '\n')
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.files[service]
	if !ok {
		w = logging.Rotating(filepath.Join(c.dir, service+".log"))
		c.files[service] = w
		c.logger.Info("collecting service logs", "service", service)
	}
	_, err = w.Write(line)
	return errors.Wrapf(err, "write %s log", service)
}

// Close releases every open file.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var merr *multierror.Error
	for service, w := range c.files {
		if err := w.Close(); err != nil {
			merr = multierror.Append(merr, errors.Wrap(err, service))
		}
		delete(c.files, service)
	}
	return merr.ErrorOrNil()
}

func serviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 2 || !serviceName.MatchString(parts[1]) {
		return "", errors.Wrapf(ErrBadTopic, "%q", topic)
	}
	return parts[1], nil
}
