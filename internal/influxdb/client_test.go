package influxdb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"meteo-platform/internal/config"
	"meteo-platform/internal/models"
	"meteo-platform/pkg/logging"
)

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("influx-test", "test", logging.ErrorLevel, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{Org: "meteo", Bucket: "sodar", Measurement: "wind_profile", Token: "token"}
}

func TestSamplePoint(t *testing.T) {
	ts := time.Date(2025, 4, 17, 2, 10, 0, 0, time.FixedZone("CEST", 2*3600))
	p := samplePoint("wind_profile", models.WindSample{Timestamp: ts, Height: 12.5, Speed: 3.25, Direction: 270})

	if p.Name() != "wind_profile" {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.Time().Equal(ts) || p.Time().Location() != time.UTC {
		t.Errorf("Time() = %v, want %v in UTC", p.Time(), ts)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags[tagHeight] != "12.5" || tags[tagSource] != "sodar" {
		t.Errorf("tags = %v", tags)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields[fieldSpeed] != 3.25 || fields[fieldDirection] != 270.0 {
		t.Errorf("fields = %v", fields)
	}
}

func TestSampleFromRecord(t *testing.T) {
	ts := time.Date(2025, 4, 17, 0, 10, 0, 0, time.UTC)

	tests := []struct {
		name   string
		values map[string]interface{}
		want   models.WindSample
		wantOK bool
	}{
		{
			name:   "complete record",
			values: map[string]interface{}{tagHeight: "40", fieldSpeed: 3.5, fieldDirection: 180.0},
			want:   models.WindSample{Timestamp: ts, Height: 40, Speed: 3.5, Direction: 180},
			wantOK: true,
		},
		{
			name:   "integer fields",
			values: map[string]interface{}{tagHeight: "12.5", fieldSpeed: int64(3), fieldDirection: int64(90)},
			want:   models.WindSample{Timestamp: ts, Height: 12.5, Speed: 3, Direction: 90},
			wantOK: true,
		},
		{
			name:   "missing height",
			values: map[string]interface{}{fieldSpeed: 3.5, fieldDirection: 180.0},
		},
		{
			name:   "non-numeric height",
			values: map[string]interface{}{tagHeight: "top", fieldSpeed: 3.5, fieldDirection: 180.0},
		},
		{
			name:   "missing direction after pivot",
			values: map[string]interface{}{tagHeight: "40", fieldSpeed: 3.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sampleFromRecord(ts, tt.values)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("sample = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExistsQuery(t *testing.T) {
	key := models.WindKey{Timestamp: time.Date(2025, 4, 17, 0, 10, 0, 0, time.UTC), Height: 40}
	q := existsQuery("sodar", "wind_profile", key)

	for _, want := range []string{
		`from(bucket: "sodar")`,
		`range(start: 2025-04-17T00:10:00Z, stop: 2025-04-17T00:10:01Z)`,
		`r._measurement == "wind_profile"`,
		`r.height_m == "40"`,
		`r._time == 2025-04-17T00:10:00Z`,
		`limit(n: 1)`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("exists query missing %q:\n%s", want, q)
		}
	}
}

func TestRangeQuery(t *testing.T) {
	from := time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		from, to  time.Time
		wantRange string
	}{
		{"bounded", from, from.AddDate(0, 0, 1), "range(start: 2025-04-17T00:00:00Z, stop: 2025-04-18T00:00:00Z)"},
		{"open start", time.Time{}, from, "range(start: 0, stop: 2025-04-17T00:00:00Z)"},
		{"open stop", from, time.Time{}, "range(start: 2025-04-17T00:00:00Z, stop: now())"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := rangeQuery("sodar", "wind_profile", tt.from, tt.to)
			if !strings.Contains(q, tt.wantRange) {
				t.Errorf("query missing %q:\n%s", tt.wantRange, q)
			}
			if !strings.Contains(q, `pivot(rowKey: ["_time", "height_m"]`) {
				t.Errorf("query does not pivot fields:\n%s", q)
			}
		})
	}
}

func TestClient_Write(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("bucket") != "sodar" || r.URL.Query().Get("org") != "meteo" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newClient(influxdb2.NewClient(server.URL, "token"), testConfig(), testLogger())
	defer c.Close()

	s := models.WindSample{Timestamp: time.Date(2025, 4, 17, 0, 10, 0, 0, time.UTC), Height: 40, Speed: 3.5, Direction: 180}
	if err := c.Write(context.Background(), s); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	for _, want := range []string{"wind_profile,height_m=40,source=sodar", "direction=180", "speed=3.5"} {
		if !strings.Contains(body, want) {
			t.Errorf("line protocol %q missing %q", body, want)
		}
	}
}

func TestClient_WriteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"invalid","message":"bad point"}`))
	}))
	defer server.Close()

	c := newClient(influxdb2.NewClient(server.URL, "token"), testConfig(), testLogger())
	defer c.Close()

	if err := c.Write(context.Background(), models.WindSample{Timestamp: time.Now(), Height: 40}); err == nil {
		t.Error("Write() should fail on a 400 response")
	}
}

const pivotCSV = `#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,string,string,string,double,double
#group,false,false,true,true,false,true,false,true,false,false
#default,_result,,,,,,,,,
,result,table,_start,_stop,_time,_measurement,height_m,source,direction,speed
,,0,2025-04-17T00:00:00Z,2025-04-18T00:00:00Z,2025-04-17T00:10:00Z,wind_profile,60,sodar,200,5.5
,,0,2025-04-17T00:00:00Z,2025-04-18T00:00:00Z,2025-04-17T00:10:00Z,wind_profile,40,sodar,180,3.5
,,0,2025-04-17T00:00:00Z,2025-04-18T00:00:00Z,2025-04-17T00:00:00Z,wind_profile,40,sodar,170,2.5

`

func TestClient_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Write([]byte(pivotCSV))
	}))
	defer server.Close()

	c := newClient(influxdb2.NewClient(server.URL, "token"), testConfig(), testLogger())
	defer c.Close()

	from := time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)
	got, err := c.Query(context.Background(), from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d samples, want 3", len(got))
	}

	wantSpeeds := []float64{2.5, 3.5, 5.5}
	for i, w := range wantSpeeds {
		if got[i].Speed != w {
			t.Errorf("sample[%d].Speed = %v, want %v", i, got[i].Speed, w)
		}
	}
	if got[1].Height != 40 || got[1].Direction != 180 {
		t.Errorf("sample[1] = %+v", got[1])
	}
}

func TestClient_Exists(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"present", pivotCSV, true},
		{"absent", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/csv; charset=utf-8")
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newClient(influxdb2.NewClient(server.URL, "token"), testConfig(), testLogger())
			defer c.Close()

			key := models.WindKey{Timestamp: time.Date(2025, 4, 17, 0, 10, 0, 0, time.UTC), Height: 40}
			got, err := c.Exists(context.Background(), key)
			if err != nil {
				t.Fatalf("Exists() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}
