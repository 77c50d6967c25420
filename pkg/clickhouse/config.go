package clickhouse

import (
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

type ClientConfig struct {
	Addr         string
	Database     string
	User         string
	Password     string
	UseHTTP      bool
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	// Settings are sent with every query, e.g. async_insert.
	Settings clickhouse.Settings
}

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		Settings:     clickhouse.Settings{},
	}
}

func (c *ClientConfig) options() *clickhouse.Options {
	protocol := clickhouse.Native
	if c.UseHTTP {
		protocol = clickhouse.HTTP
	}
	return &clickhouse.Options{
		Addr:     []string{c.Addr},
		Protocol: protocol,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		Settings:        c.Settings,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnLifetime,
	}
}

// WithAddr sets host and port.
func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) {
		if host != "" {
			c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
		}
	}
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) { c.Database = database }
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		c.User = user
		c.Password = password
	}
}

// WithPool sizes the database/sql pool.
func WithPool(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) {
		if maxOpen > 0 {
			c.MaxOpenConns = maxOpen
		}
		if maxIdle >= 0 {
			c.MaxIdleConns = maxIdle
		}
	}
}

// WithTimeouts sets dial and read timeouts. Zero keeps the default.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

// WithAsyncInsert lets the server buffer prediction inserts. With wait set
// the insert returns only after the buffer is flushed.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) {
		if !enabled {
			return
		}
		c.Settings["async_insert"] = 1
		if wait {
			c.Settings["wait_for_async_insert"] = 1
		} else {
			c.Settings["wait_for_async_insert"] = 0
		}
	}
}

// WithMaxExecutionTime caps server-side query time, in whole seconds.
func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if secs := int(d / time.Second); secs > 0 {
			c.Settings["max_execution_time"] = secs
		}
	}
}
