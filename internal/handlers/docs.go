package handlers

import (
	"encoding/json"
	"net/http"
)

func dateParam(required bool, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        "date",
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      map[string]string{"type": "string", "format": "date"},
	}
}

func schemaRef(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

func jsonResponse(description string, schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func listOf(name string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"data": map[string]interface{}{"type": "array", "items": schemaRef(name)},
		},
	}
}

func getOperation(summary, description string, params []map[string]interface{}, ok interface{}) map[string]interface{} {
	op := map[string]interface{}{
		"summary":     summary,
		"description": description,
		"responses": map[string]interface{}{
			"200": jsonResponse("Successful response", ok),
			"400": jsonResponse("Invalid query parameter", schemaRef("Error")),
			"500": jsonResponse("Store unavailable", schemaRef("Error")),
		},
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return map[string]interface{}{"get": op}
}

func nullableNumber() map[string]interface{} {
	return map[string]interface{}{"type": "number", "nullable": true}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Meteo Platform API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	optionalDate := []map[string]interface{}{dateParam(false, "Restrict to one UTC day (YYYY-MM-DD)")}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Meteo Platform API",
			"description": "Barometric pressure and SODAR wind profile data with daily summaries",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Meteo Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/barometer/data": getOperation(
				"Get pressure readings",
				"Raw pressure readings ascending by time, with their overall summary",
				optionalDate,
				map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"data":    map[string]interface{}{"type": "array", "items": schemaRef("Reading")},
						"summary": schemaRef("PressureSummary"),
					},
				},
			),
			"/api/barometer/summary": getOperation(
				"Get daily pressure summaries",
				"Per-day min, max and mean pressure. Without a date the full history is served from cache.",
				optionalDate,
				listOf("PressureSummary"),
			),
			"/api/barometer/latest": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Get the most recent pressure reading",
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", schemaRef("Reading")),
						"404": jsonResponse("No readings stored", schemaRef("Error")),
					},
				},
			},
			"/api/sodar/data": getOperation(
				"Get wind samples",
				"Raw SODAR samples ascending by time then height",
				optionalDate,
				listOf("WindSample"),
			),
			"/api/sodar/summary": getOperation(
				"Get daily wind summaries",
				"Per-day wind speed statistics and mean direction",
				optionalDate,
				listOf("WindSummary"),
			),
			"/api/sodar/profile": getOperation(
				"Get a wind profile",
				"Mean wind speed and direction per height bin for one day",
				[]map[string]interface{}{dateParam(true, "UTC day (YYYY-MM-DD)")},
				map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"date": map[string]string{"type": "string", "format": "date"},
						"data": map[string]interface{}{"type": "array", "items": schemaRef("HeightProfile")},
					},
				},
			),
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Service is healthy"},
						"503": map[string]interface{}{"description": "Database unreachable"},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Reading": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"datetime": map[string]string{"type": "string", "format": "date-time"},
						"pressure": map[string]string{"type": "number"},
					},
				},
				"PressureSummary": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"date":         map[string]string{"type": "string", "format": "date"},
						"min_pressure": nullableNumber(),
						"max_pressure": nullableNumber(),
						"avg_pressure": nullableNumber(),
						"count":        map[string]string{"type": "integer"},
					},
				},
				"WindSample": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"datetime":  map[string]string{"type": "string", "format": "date-time"},
						"height":    map[string]string{"type": "number"},
						"speed":     map[string]string{"type": "number"},
						"direction": map[string]string{"type": "number"},
					},
				},
				"WindSummary": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"date":          map[string]string{"type": "string", "format": "date"},
						"min_speed":     nullableNumber(),
						"max_speed":     nullableNumber(),
						"avg_speed":     nullableNumber(),
						"avg_direction": nullableNumber(),
						"count":         map[string]string{"type": "integer"},
					},
				},
				"HeightProfile": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"height":        map[string]string{"type": "number"},
						"avg_speed":     map[string]string{"type": "number"},
						"avg_direction": nullableNumber(),
						"samples":       map[string]string{"type": "integer"},
					},
				},
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
