// Package output renders CLI results as tables, JSON or YAML.
package output

import (
    "bytes"
    "encoding/json"
    "fmt"
    "reflect"
    "sort"
    "strings"
    "text/tabwriter"

    "github.com/charmbracelet/lipgloss"
    "gopkg.in/yaml.v3"
)

// Formatter defines the interface for output formatting.
type Formatter interface {
    Format(data any) string
}

// Pairer is implemented by values that flatten to alternating keys and
// values, such as the bridge status.
type Pairer interface {
    Pairs() []any
}

// NewFormatter returns a Formatter for the given format string.
// Supported formats: "table" (default), "json", "yaml".
func NewFormatter(format string) Formatter {
    switch strings.ToLower(format) {
    case "json":
        return &JSONFormatter{}
    case "yaml":
        return &YAMLFormatter{}
    default:
        return &TableFormatter{}
    }
}

var titleStyle = lipgloss.NewStyle().
    Bold(true).
    Foreground(lipgloss.Color("15")).
    Background(lipgloss.Color("57")).
    Padding(0, 1)

// Title renders a styled heading line for table output.
func Title(s string) string { return titleStyle.Render(s) + "\n" }

// TableFormatter formats data as aligned text tables using tabwriter.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any) string {
    var buf bytes.Buffer
    w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

    if p, ok := data.(Pairer); ok {
        kv := p.Pairs()
        for i := 0; i+1 < len(kv); i += 2 {
            fmt.Fprintf(w, "%v\t%v\n", kv[i], kv[i+1])
        }
        w.Flush()
        return buf.String()
    }

    v := reflect.ValueOf(data)
    if v.Kind() == reflect.Ptr {
        v = v.Elem()
    }

    switch v.Kind() {
    case reflect.Slice:
        if v.Len() == 0 {
            return "No resources found.\n"
        }
        elem := v.Index(0)
        if elem.Kind() == reflect.Ptr {
            elem = elem.Elem()
        }
        if elem.Kind() == reflect.Struct {
            t := elem.Type()
            headers := make([]string, t.NumField())
            for i := 0; i < t.NumField(); i++ {
                headers[i] = strings.ToUpper(t.Field(i).Name)
            }
            fmt.Fprintln(w, strings.Join(headers, "\t"))
            for i := 0; i < v.Len(); i++ {
                row := v.Index(i)
                if row.Kind() == reflect.Ptr {
                    row = row.Elem()
                }
                vals := make([]string, row.NumField())
                for j := 0; j < row.NumField(); j++ {
                    vals[j] = fmt.Sprintf("%v", row.Field(j).Interface())
                }
                fmt.Fprintln(w, strings.Join(vals, "\t"))
            }
        } else {
            for i := 0; i < v.Len(); i++ {
                fmt.Fprintln(w, v.Index(i).Interface())
            }
        }
    case reflect.Struct:
        t := v.Type()
        for i := 0; i < t.NumField(); i++ {
            fmt.Fprintf(w, "%s:\t%v\n", t.Field(i).Name, v.Field(i).Interface())
        }
    case reflect.Map:
        vals := make(map[string]any, v.Len())
        names := make([]string, 0, v.Len())
        for _, k := range v.MapKeys() {
            n := fmt.Sprint(k.Interface())
            vals[n] = v.MapIndex(k).Interface()
            names = append(names, n)
        }
        sort.Strings(names)
        for _, n := range names {
            fmt.Fprintf(w, "%s:\t%v\n", n, vals[n])
        }
    default:
        fmt.Fprintln(w, data)
    }

    w.Flush()
    return buf.String()
}

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
    b, err := json.MarshalIndent(data, "", "  ")
    if err != nil {
        return fmt.Sprintf("error formatting JSON: %v\n", err)
    }
    return string(b) + "\n"
}

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
    b, err := yaml.Marshal(data)
    if err != nil {
        return fmt.Sprintf("error formatting YAML: %v\n", err)
    }
    return string(b)
}
