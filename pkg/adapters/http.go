package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/bizcast/pkg/series"
)

// Response layouts understood by HTTPLoader.
const (
	// LayoutSeries reads parallel arrays of dates and values at DatePath
	// and ValuePath.
	LayoutSeries = "series"

	// LayoutRecords reads business records, each either a list of
	// {"date", "metric_name", "value"} rows or a {"date", "metrics": {name: value}}
	// object, and keeps the entries for the requested metric.
	LayoutRecords = "records"
)

// HTTPLoader calls a REST endpoint and extracts a daily series from the JSON
// response using gjson paths.
//
// URL, Body and header values are templates with the variables
// {{.BusinessID}} and {{.Metric}} plus any TemplateVars. The metric is
// path-escaped when substituted into the URL.
//
// Example configuration for a metrics API:
//
//	loader := &HTTPLoader{
//	    URL:       "https://records.example.com/businesses/{{.BusinessID}}/metrics/{{.Metric}}",
//	    ValuePath: "points.#.value",
//	    DatePath:  "points.#.date",
//	}
type HTTPLoader struct {
	// URL is the endpoint to call (required).
	URL string

	// Method is the HTTP method. Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers. Values may use template variables.
	Headers map[string]string

	// Body is the request body template (for POST/PUT).
	Body string

	// Layout is LayoutSeries (default) or LayoutRecords.
	Layout string

	// ValuePath and DatePath are gjson paths returning arrays of equal
	// length. Used by LayoutSeries.
	ValuePath string
	DatePath  string

	// RecordsPath is the gjson path of the record array for LayoutRecords.
	// Empty means the response root.
	RecordsPath string

	// DateFormat specifies how to parse dates:
	//   "date"       - YYYY-MM-DD, also accepting RFC3339 and "YYYY-MM-DD hh:mm:ss" (default)
	//   "rfc3339"    - RFC3339 strings
	//   "unix"       - Unix seconds
	//   "unix_milli" - Unix milliseconds
	DateFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are extra variables available to templates.
	TemplateVars map[string]string
}

func (h *HTTPLoader) Name() string { return "http" }

// Load calls the endpoint for (businessID, metric). An empty result yields
// *series.NoDataError, as does a 404 from the endpoint.
func (h *HTTPLoader) Load(ctx context.Context, businessID int64, metric string) ([]series.Observation, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http loader: %w", err)
	}

	data := map[string]any{
		"BusinessID": businessID,
		"Metric":     metric,
	}
	for k, v := range h.TemplateVars {
		data[k] = v
	}

	urlData := make(map[string]any, len(data))
	for k, v := range data {
		urlData[k] = v
	}
	urlData["Metric"] = url.PathEscape(metric)
	target, err := renderTemplate(h.URL, urlData)
	if err != nil {
		return nil, fmt.Errorf("render url template: %w", err)
	}

	var bodyReader io.Reader
	if h.Body != "" {
		body, err := renderTemplate(h.Body, data)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = strings.NewReader(body)
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, noData(businessID, metric)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return nil, errors.New("response is not valid JSON")
	}

	var obs []series.Observation
	if h.Layout == LayoutRecords {
		obs, err = h.parseRecords(respBody, metric)
	} else {
		obs, err = h.parseSeries(respBody)
	}
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, noData(businessID, metric)
	}
	return obs, nil
}

func (h *HTTPLoader) parseSeries(body []byte) ([]series.Observation, error) {
	values := gjson.GetBytes(body, h.ValuePath)
	dates := gjson.GetBytes(body, h.DatePath)
	if !values.Exists() || !dates.Exists() {
		// An absent array is an empty series.
		return nil, nil
	}

	valArray := values.Array()
	dateArray := dates.Array()
	if len(valArray) != len(dateArray) {
		return nil, fmt.Errorf("value count (%d) != date count (%d)", len(valArray), len(dateArray))
	}

	obs := make([]series.Observation, 0, len(valArray))
	for i := range valArray {
		d, err := h.parseDate(dateArray[i])
		if err != nil {
			return nil, fmt.Errorf("parse date[%d]: %w", i, err)
		}
		v, err := parseValue(valArray[i])
		if err != nil {
			return nil, fmt.Errorf("parse value[%d]: %w", i, err)
		}
		obs = append(obs, series.Observation{Date: d, Value: v})
	}
	return obs, nil
}

func (h *HTTPLoader) parseRecords(body []byte, metric string) ([]series.Observation, error) {
	records := gjson.ParseBytes(body)
	if h.RecordsPath != "" {
		records = gjson.GetBytes(body, h.RecordsPath)
	}
	if !records.IsArray() {
		return nil, nil
	}

	var obs []series.Observation
	var err error
	add := func(date, value gjson.Result) bool {
		var o series.Observation
		if o.Date, err = h.parseDate(date); err != nil {
			err = fmt.Errorf("parse record date: %w", err)
			return false
		}
		if o.Value, err = parseValue(value); err != nil {
			err = fmt.Errorf("parse record value: %w", err)
			return false
		}
		obs = append(obs, o)
		return true
	}

	records.ForEach(func(_, rec gjson.Result) bool {
		switch {
		case rec.IsArray():
			rec.ForEach(func(_, row gjson.Result) bool {
				if row.Get("metric_name").String() != metric {
					return true
				}
				return add(row.Get("date"), row.Get("value"))
			})
		case rec.IsObject():
			rec.Get("metrics").ForEach(func(name, value gjson.Result) bool {
				if name.String() != metric {
					return true
				}
				return add(rec.Get("date"), value)
			})
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return obs, nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// parseDate parses a date according to the configured format.
func (h *HTTPLoader) parseDate(value gjson.Result) (time.Time, error) {
	switch h.DateFormat {
	case "", "date":
		s := value.String()
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)

	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())

	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil

	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unsupported date format: %s", h.DateFormat)
	}
}

// parseValue reads a number or numeric string. Null and absent values
// become NaN and are filled during cleaning.
func parseValue(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.Null:
		return math.NaN(), nil
	case gjson.Number:
		return v.Float(), nil
	case gjson.String:
		if v.Str == "" {
			return math.NaN(), nil
		}
		return strconv.ParseFloat(v.Str, 64)
	default:
		return 0, fmt.Errorf("unexpected %s value %s", v.Type, v.Raw)
	}
}

// renderTemplate renders a text template with the given data.
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ValidateConfig checks if the loader configuration is valid.
func (h *HTTPLoader) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	switch h.Layout {
	case "", LayoutSeries:
		if h.ValuePath == "" || h.DatePath == "" {
			return errors.New("valuePath and datePath are required for the series layout")
		}
	case LayoutRecords:
	default:
		return fmt.Errorf("invalid layout: %s (must be series or records)", h.Layout)
	}

	switch h.DateFormat {
	case "", "date", "rfc3339", "unix", "unix_milli":
	default:
		return fmt.Errorf("invalid dateFormat: %s (must be date, rfc3339, unix, or unix_milli)", h.DateFormat)
	}
	return nil
}
