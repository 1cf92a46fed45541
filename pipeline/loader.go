package pipeline

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// AllocationsQuery 嵌入式数据库中读取训练数据的固定查询
const AllocationsQuery = "SELECT * FROM allocations"

// SourceKind 数据源类型
type SourceKind string

const (
	SourceDelimited SourceKind = "delimited"
	SourceEmbedded  SourceKind = "embedded"
)

// ParseSourceKind 解析显式指定的数据源类型，空字符串表示按路径推断
func ParseSourceKind(value string) (SourceKind, error) {
	switch kind := SourceKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case "", SourceDelimited, SourceEmbedded:
		return kind, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "source kind %q", value)
	}
}

// DetectSourceKind 根据路径后缀推断数据源类型
func DetectSourceKind(path string) (SourceKind, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return SourceDelimited, nil
	case strings.HasSuffix(lower, ".sqlite"),
		strings.HasSuffix(lower, ".sqlite3"),
		strings.HasSuffix(lower, ".db"),
		strings.Contains(lower, "sqlite"):
		return SourceEmbedded, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "cannot infer source kind of %q", path)
	}
}

// Loader 将数据源读取为Dataset
type Loader interface {
	Load(ctx context.Context, path string) (*Dataset, error)
}

// LoaderConfig 加载器配置
type LoaderConfig struct {
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`
}

// NewLoader 按数据源类型创建加载器
func NewLoader(kind SourceKind, config LoaderConfig) (Loader, error) {
	switch kind {
	case SourceDelimited:
		return NewDelimitedFileLoader(config)
	case SourceEmbedded:
		return &EmbeddedTableLoader{}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "source kind %q", kind)
	}
}

// DelimitedFileLoader 读取带表头的分隔文本文件
type DelimitedFileLoader struct {
	delimiter rune
	encoding  encoding.Encoding
}

// NewDelimitedFileLoader 创建分隔文件加载器，编码名称使用WHATWG标签（utf-8、gbk等）
func NewDelimitedFileLoader(config LoaderConfig) (*DelimitedFileLoader, error) {
	delimiter := ','
	if config.Delimiter != "" {
		if config.Delimiter == `\t` {
			config.Delimiter = "\t"
		}
		r, size := utf8.DecodeRuneInString(config.Delimiter)
		if size != len(config.Delimiter) || r == utf8.RuneError {
			return nil, errors.Errorf("delimiter must be a single character, got %q", config.Delimiter)
		}
		delimiter = r
	}

	name := config.Encoding
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown text encoding %q", name)
	}

	return &DelimitedFileLoader{delimiter: delimiter, encoding: enc}, nil
}

// Load 读取整个文件，第一行为表头
func (l *DelimitedFileLoader) Load(ctx context.Context, path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(transform.NewReader(file, l.encoding.NewDecoder()))
	reader.Comma = l.delimiter
	reader.TrimLeadingSpace = true
	// 行宽由清洗规则校验
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrapf(ErrDataShape, "%s has no header row", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	dataset := &Dataset{Columns: header}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		dataset.Rows = append(dataset.Rows, record)
	}
	return dataset, nil
}

// EmbeddedTableLoader 从SQLite文件的allocations表读取数据
type EmbeddedTableLoader struct{}

// Load 以只读方式打开数据库并执行固定查询
func (l *EmbeddedTableLoader) Load(ctx context.Context, path string) (*Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	database, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer database.Close()

	rows, err := database.QueryContext(ctx, AllocationsQuery)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", path)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	dataset := &Dataset{Columns: columns}
	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		record := make([]string, len(columns))
		for i, value := range values {
			record[i] = cellText(value)
		}
		dataset.Rows = append(dataset.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dataset, nil
}

func cellText(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
