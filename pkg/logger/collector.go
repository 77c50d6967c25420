package logger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Publisher ships a batch of aggregated entries to a topic. The kafka
// producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period, default 30s
	CountThreshold int           // distinct entries that force an early flush, default 100
	Topic          string
	Publisher      Publisher
	Warnings       bool // also aggregate warn lines
}

// AggregatedLogEntry counts every line logged from one call site with one
// message. Fields hold the values of the most recent occurrence.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

const publishTimeout = 10 * time.Second

type LogCollector struct {
	config  CollectionConfig
	onError func(err error, entries int)

	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry

	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup // flush loop and in-flight publishes
	publish sync.Mutex     // serializes publishes so batches stay ordered
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		config:  *cfg,
		entries: make(map[string]*AggregatedLogEntry),
		stop:    make(chan struct{}),
	}
	if c.config.TimeInterval <= 0 {
		c.config.TimeInterval = 30 * time.Second
	}
	if c.config.CountThreshold <= 0 {
		c.config.CountThreshold = 100
	}

	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := level + "|" + caller + "|" + message

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &AggregatedLogEntry{Level: level, Message: message, Caller: caller, FirstSeen: now}
		c.entries[key] = e
	}
	e.Count++
	e.Fields = fields
	e.LastSeen = now
	var batch []AggregatedLogEntry
	if len(c.entries) >= c.config.CountThreshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.send(batch)
		}()
	}
}

func (c *LogCollector) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.stop:
			c.Flush()
			return
		}
	}
}

// Flush publishes everything collected so far and waits for the publish.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()
	if batch != nil {
		c.send(batch)
	}
}

func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	batch := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	return batch
}

func (c *LogCollector) send(batch []AggregatedLogEntry) {
	if c.config.Publisher == nil {
		return
	}
	c.publish.Lock()
	defer c.publish.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch); err != nil && c.onError != nil {
		c.onError(err, len(batch))
	}
}

// Close stops the flush loop after a final flush. Safe to call twice.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
