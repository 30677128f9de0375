package simulator

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/chrisdamba/venuesim/internal/cloudwriter"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/output"
	"github.com/chrisdamba/venuesim/internal/simulator/producers"
)

type OutputDestination interface {
	WriteMessage(topic string, msg []byte) error
	Close() error
}

type ConsoleOutput struct {
	w io.Writer
}

type CSVOutput struct {
	basePath string
	folder   string
	files    map[string]*csv.Writer
	handles  map[string]*os.File
	headers  map[string][]string
}

type JSONOutput struct {
	basePath string
	folder   string
	compress bool
	files    map[string]*jsonFile
}

type jsonFile struct {
	file *os.File
	gz   *gzip.Writer
	w    io.Writer
}

type ParquetOutput struct {
	basePath           string
	folder             string
	mu                 sync.Mutex
	writers            map[string]*writer.ParquetWriter
	writerMutexes      map[string]*sync.Mutex
	files              map[string]source.ParquetFile
	cloudWriterFactory cloudwriter.CloudWriterFactory
	cloudBucketName    string
}

type CloudParquetFile struct {
	cloudWriter cloudwriter.CloudWriter
	offset      int64
}

func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleOutput{w: w}
}

func (c *ConsoleOutput) WriteMessage(topic string, msg []byte) error {
	if _, err := fmt.Fprintf(c.w, "[%s] %s\n", topic, msg); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

func (c *ConsoleOutput) Close() error {
	if f, ok := c.w.(*os.File); ok {
		_ = f.Sync()
	}
	return nil
}

func NewCSVOutput(basePath, folder string) *CSVOutput {
	return &CSVOutput{
		basePath: basePath,
		folder:   folder,
		files:    make(map[string]*csv.Writer),
		handles:  make(map[string]*os.File),
		headers:  make(map[string][]string),
	}
}

func NewJSONOutput(basePath, folder string, compress bool) *JSONOutput {
	return &JSONOutput{
		basePath: basePath,
		folder:   folder,
		compress: compress,
		files:    make(map[string]*jsonFile),
	}
}

func NewParquetOutput(ctx context.Context, config *models.Config) (*ParquetOutput, error) {
	p := &ParquetOutput{
		basePath:      config.OutputPath,
		folder:        config.OutputFolder,
		writers:       make(map[string]*writer.ParquetWriter),
		writerMutexes: make(map[string]*sync.Mutex),
		files:         make(map[string]source.ParquetFile),
	}

	if config.OutputDestination == DestinationCloud {
		var factory cloudwriter.CloudWriterFactory
		var err error

		switch config.CloudStorage.Provider {
		case "s3":
			factory, err = cloudwriter.NewS3WriterFactory(ctx, config.CloudStorage.Region, config.CloudStorage.Endpoint)
		default:
			return nil, fmt.Errorf("unsupported cloud storage provider: %s", config.CloudStorage.Provider)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create cloud writer factory: %w", err)
		}

		p.cloudWriterFactory = factory
		p.cloudBucketName = config.CloudStorage.BucketName
	} else {
		// clean up existing .parquet files
		p.cleanup()
	}

	return p, nil
}

func newParquetOutputWithFactory(basePath, folder, bucket string, factory cloudwriter.CloudWriterFactory) *ParquetOutput {
	return &ParquetOutput{
		basePath:           basePath,
		folder:             folder,
		writers:            make(map[string]*writer.ParquetWriter),
		writerMutexes:      make(map[string]*sync.Mutex),
		files:              make(map[string]source.ParquetFile),
		cloudWriterFactory: factory,
		cloudBucketName:    bucket,
	}
}

func NewCloudParquetFile(cloudWriter cloudwriter.CloudWriter) *CloudParquetFile {
	return &CloudParquetFile{
		cloudWriter: cloudWriter,
		offset:      0,
	}
}

func (c *CloudParquetFile) Open(name string) (source.ParquetFile, error) {
	// objects are written in one go on Close, so there is nothing to open
	return c, nil
}

func (c *CloudParquetFile) Create(name string) (source.ParquetFile, error) {
	return c, nil
}

func (c *CloudParquetFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		c.offset = offset
	case io.SeekCurrent:
		c.offset += offset
	case io.SeekEnd:
		return 0, fmt.Errorf("seek from end not supported for cloud storage")
	}
	return c.offset, nil
}

func (c *CloudParquetFile) Read(p []byte) (n int, err error) {
	return 0, fmt.Errorf("read not supported for cloud storage")
}

func (c *CloudParquetFile) Write(p []byte) (n int, err error) {
	n, err = c.cloudWriter.Write(p)
	c.offset += int64(n)
	return n, err
}

func (c *CloudParquetFile) Close() error {
	return c.cloudWriter.Close()
}

// partition decodes msg and returns it with its hourly partition path.
func partition(msg []byte) (map[string]interface{}, string, error) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg, &event); err != nil {
		return nil, "", err
	}

	timestamp, ok := event["timestamp"].(float64)
	if !ok {
		return nil, "", fmt.Errorf("invalid timestamp")
	}

	eventTime := time.Unix(int64(timestamp), 0).UTC()
	year, month, day := eventTime.Date()
	hour := eventTime.Hour()

	return event, fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d", year, month, day, hour), nil
}

func (c *CSVOutput) WriteMessage(topic string, msg []byte) error {
	event, partitionPath, err := partition(msg)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(c.basePath, c.folder, topic, partitionPath)

	fileKey := fmt.Sprintf("%s_%s", topic, partitionPath)
	csvWriter, ok := c.files[fileKey]
	if !ok {
		if err := os.MkdirAll(fullPath, os.ModePerm); err != nil {
			return err
		}
		file, err := os.Create(filepath.Join(fullPath, "data.csv"))
		if err != nil {
			return err
		}
		csvWriter = csv.NewWriter(file)
		c.files[fileKey] = csvWriter
		c.handles[fileKey] = file

		// write headers if this is a new file
		headers := c.getHeaders(event)
		if err := csvWriter.Write(headers); err != nil {
			return err
		}
		c.headers[fileKey] = headers
	}

	row := make([]string, len(c.headers[fileKey]))
	for i, header := range c.headers[fileKey] {
		value, ok := event[header]
		if !ok || value == nil {
			row[i] = ""
		} else {
			row[i] = formatCSVValue(value)
		}
	}

	if err := csvWriter.Write(row); err != nil {
		return err
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func formatCSVValue(value interface{}) string {
	if f, ok := value.(float64); ok {
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
	}
	return fmt.Sprintf("%v", value)
}

func (c *CSVOutput) getHeaders(event map[string]interface{}) []string {
	var headers []string
	for key := range event {
		headers = append(headers, key)
	}
	sort.Strings(headers)
	return headers
}

func (c *CSVOutput) Close() error {
	var lastErr error
	for key, csvWriter := range c.files {
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			lastErr = err
		}
		if err := c.handles[key].Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (j *JSONOutput) WriteMessage(topic string, msg []byte) error {
	event, partitionPath, err := partition(msg)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(j.basePath, j.folder, topic, partitionPath)

	fileKey := fmt.Sprintf("%s_%s", topic, partitionPath)
	jf, ok := j.files[fileKey]
	if !ok {
		if err := os.MkdirAll(fullPath, os.ModePerm); err != nil {
			return err
		}
		name := "data.json"
		if j.compress {
			name += ".gz"
		}
		file, err := os.Create(filepath.Join(fullPath, name))
		if err != nil {
			return err
		}
		jf = &jsonFile{file: file, w: file}
		if j.compress {
			jf.gz = gzip.NewWriter(file)
			jf.w = jf.gz
		}
		j.files[fileKey] = jf
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := jf.w.Write(append(jsonData, '\n')); err != nil {
		return err
	}
	return nil
}

func (j *JSONOutput) Close() error {
	var lastErr error
	for _, jf := range j.files {
		if jf.gz != nil {
			if err := jf.gz.Close(); err != nil {
				lastErr = err
			}
		}
		if err := jf.file.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (p *ParquetOutput) WriteMessage(topic string, msg []byte) error {
	_, partitionPath, err := partition(msg)
	if err != nil {
		return err
	}
	record, err := newRecord(topic)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg, record); err != nil {
		return fmt.Errorf("failed to decode %s record: %w", topic, err)
	}
	fullPath := filepath.Join(p.basePath, p.folder, topic, partitionPath)

	writerKey := fmt.Sprintf("%s_%s", topic, partitionPath)
	p.mu.Lock()
	pw, ok := p.writers[writerKey]
	if !ok {
		pw, err = p.createNewWriter(writerKey, fullPath, topic, partitionPath)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create new writer: %w", err)
		}
	}
	writerMutex := p.writerMutexes[writerKey]
	p.mu.Unlock()

	writerMutex.Lock()
	defer writerMutex.Unlock()

	if err := pw.Write(reflect.ValueOf(record).Elem().Interface()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

func (p *ParquetOutput) cleanup() {
	fullPath := filepath.Join(p.basePath, p.folder)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return
	}
	err := filepath.Walk(fullPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".parquet" {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("error cleaning up parquet files")
	}
}

func (p *ParquetOutput) createNewWriter(writerKey, fullPath, topic, partitionPath string) (*writer.ParquetWriter, error) {
	var fw source.ParquetFile
	var err error
	if p.cloudWriterFactory != nil {
		objectPath := strings.Join([]string{p.folder, topic, partitionPath, "data.parquet"}, "/")
		cloudWriter, err := p.cloudWriterFactory.NewWriter(p.cloudBucketName, objectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud file writer: %w", err)
		}
		fw = NewCloudParquetFile(cloudWriter)
	} else {
		if err := os.MkdirAll(fullPath, os.ModePerm); err != nil {
			return nil, err
		}
		fw, err = local.NewLocalFileWriter(filepath.Join(fullPath, "data.parquet"))
		if err != nil {
			return nil, fmt.Errorf("failed to create local file writer: %w", err)
		}
	}

	sc, err := GetSchema(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, nil, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create ParquetWriter: %w", err)
	}
	pw.SchemaHandler = sc
	pw.Footer.Schema = append(pw.Footer.Schema[:0], sc.SchemaElements...)

	p.writers[writerKey] = pw
	p.writerMutexes[writerKey] = &sync.Mutex{}
	p.files[writerKey] = fw

	return pw, nil
}

func (p *ParquetOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for key, pw := range p.writers {
		mutex := p.writerMutexes[key]
		mutex.Lock()
		if err := pw.WriteStop(); err != nil {
			lastErr = err
			log.Error().Err(err).Str("key", key).Msg("error closing parquet writer")
		}
		if f, ok := p.files[key]; ok {
			if err := f.Close(); err != nil {
				lastErr = err
				log.Error().Err(err).Str("key", key).Msg("error closing parquet file")
			}
		}
		mutex.Unlock()
	}
	return lastErr
}

const (
	DestinationConsole  = "console"
	DestinationFile     = "file"
	DestinationCloud    = "cloud"
	DestinationKafka    = "kafka"
	DestinationNats     = "nats"
	DestinationPostgres = "postgres"
)

// NewOutputDestination builds the destination named by the config. Kafka and
// NATS are reached through a circuit breaker.
func NewOutputDestination(ctx context.Context, config *models.Config) (OutputDestination, error) {
	destination := config.OutputDestination
	if config.Kafka.Enabled {
		destination = DestinationKafka
	} else if config.Nats.Enabled {
		destination = DestinationNats
	} else if config.Database.Enabled {
		destination = DestinationPostgres
	}

	switch destination {
	case DestinationKafka:
		producer, err := producers.NewSaramaProducer(config.Kafka)
		if err != nil {
			return nil, err
		}
		return producers.NewBreakerOutput("kafka", producer), nil
	case DestinationNats:
		producer, err := producers.NewNatsProducer(config.Nats)
		if err != nil {
			return nil, err
		}
		return producers.NewBreakerOutput("nats", producer), nil
	case DestinationPostgres:
		return output.NewPostgresOutput(ctx, &config.Database)
	case DestinationFile, DestinationCloud:
		if destination == DestinationCloud && config.OutputFormat != "parquet" {
			return nil, fmt.Errorf("unsupported format for cloud destination: %s", config.OutputFormat)
		}
		switch config.OutputFormat {
		case "parquet":
			return NewParquetOutput(ctx, config)
		case "json":
			return NewJSONOutput(config.OutputPath, config.OutputFolder, config.OutputGzip), nil
		case "csv":
			return NewCSVOutput(config.OutputPath, config.OutputFolder), nil
		default:
			return nil, fmt.Errorf("unsupported output format: %s", config.OutputFormat)
		}
	case DestinationConsole, "":
		return NewConsoleOutput(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unsupported output destination: %s", destination)
	}
}
