package handlers

import (
	"encoding/json"
	"net/http"
)

type schema = map[string]interface{}

func queryParam(name, description string, typ string) schema {
	return schema{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema{"type": typ},
	}
}

var paginationParams = []schema{
	{
		"name":        "page",
		"in":          "query",
		"description": "Page number (default: 1)",
		"required":    false,
		"schema":      schema{"type": "integer", "default": 1},
	},
	{
		"name":        "limit",
		"in":          "query",
		"description": "Records per page (default: 100, max: 1000)",
		"required":    false,
		"schema":      schema{"type": "integer", "default": 100},
	},
}

func jsonResponse(description string, body schema) schema {
	return schema{
		"description": description,
		"content": schema{
			"application/json": schema{"schema": body},
		},
	}
}

func object(properties schema) schema {
	return schema{"type": "object", "properties": properties}
}

func nullable(typ string) schema {
	return schema{"type": typ, "nullable": true}
}

func paginated(item schema) schema {
	return object(schema{
		"data":        schema{"type": "array", "items": item},
		"total":       schema{"type": "integer"},
		"page":        schema{"type": "integer"},
		"limit":       schema{"type": "integer"},
		"total_pages": schema{"type": "integer"},
	})
}

func list(item schema) schema {
	return object(schema{
		"data":  schema{"type": "array", "items": item},
		"count": schema{"type": "integer"},
	})
}

var (
	shapeletSchema = object(schema{
		"id":              schema{"type": "integer"},
		"dataset_key":     schema{"type": "string"},
		"shapelet_id":     schema{"type": "integer"},
		"site_key":        schema{"type": "string"},
		"parameter_code":  schema{"type": "string"},
		"year":            schema{"type": "integer"},
		"start_date":      schema{"type": "string", "format": "date"},
		"end_date":        schema{"type": "string", "format": "date"},
		"length_days":     schema{"type": "integer"},
		"pattern_type":    nullable("string"),
		"data_type":       nullable("string"),
		"quality":         nullable("number"),
		"shapelet_values": schema{"type": "string", "description": "JSON array of numbers"},
		"source_file":     schema{"type": "string"},
	})

	siteSchema = object(schema{
		"site_key":  schema{"type": "string"},
		"state":     schema{"type": "string"},
		"county":    schema{"type": "string"},
		"site_num":  schema{"type": "integer"},
		"latitude":  nullable("number"),
		"longitude": nullable("number"),
	})

	pollutantSchema = object(schema{
		"parameter_code": schema{"type": "string"},
		"name":           nullable("string"),
		"unit":           nullable("string"),
	})

	runSchema = object(schema{
		"id":          schema{"type": "integer"},
		"started_at":  schema{"type": "string", "format": "date-time"},
		"finished_at": schema{"type": "string", "format": "date-time", "nullable": true},
		"status":      schema{"type": "string", "enum": []string{"RUNNING", "COMPLETED", "FAILED"}},
		"total_files": schema{"type": "integer"},
		"total_rows":  schema{"type": "integer"},
		"error_count": schema{"type": "integer"},
	})

	summarySchema = object(schema{
		"shapelet_count": schema{"type": "integer"},
		"site_count":     schema{"type": "integer"},
		"first_date":     schema{"type": "string", "format": "date", "nullable": true},
		"last_date":      schema{"type": "string", "format": "date", "nullable": true},
		"years":          schema{"type": "array", "items": schema{"type": "integer"}},
		"pattern_types":  schema{"type": "array", "items": schema{"type": "string"}},
	})

	errorSchema = object(schema{
		"error":   schema{"type": "string"},
		"message": schema{"type": "string"},
		"code":    schema{"type": "integer"},
	})
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the shapelet API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	shapeletParams := append([]schema{
		queryParam("site_key", "Filter by site key, e.g. NC_Beaufort_6", "string"),
		queryParam("parameter_code", "Filter by AQS parameter code, e.g. 42401", "string"),
		queryParam("year", "Filter by year", "integer"),
	}, paginationParams...)

	spec := schema{
		"openapi": "3.0.0",
		"info": schema{
			"title":       "Air Shapelets API",
			"description": "Read access to air-quality shapelets, monitoring sites and ingestion runs",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": schema{
			"/api/shapelets": schema{
				"get": schema{
					"summary":     "Get shapelets",
					"description": "Retrieve shapelets with filtering and pagination",
					"parameters":  shapeletParams,
					"responses": schema{
						"200": jsonResponse("Successful response", paginated(shapeletSchema)),
						"400": jsonResponse("Invalid filter", errorSchema),
					},
				},
			},
			"/api/sites": schema{
				"get": schema{
					"summary":    "Get monitoring sites",
					"parameters": paginationParams,
					"responses": schema{
						"200": jsonResponse("Successful response", list(siteSchema)),
					},
				},
			},
			"/api/pollutants": schema{
				"get": schema{
					"summary": "Get pollutant parameter codes",
					"responses": schema{
						"200": jsonResponse("Successful response", list(pollutantSchema)),
					},
				},
			},
			"/api/runs": schema{
				"get": schema{
					"summary":     "Get ingestion runs",
					"description": "Newest first",
					"parameters":  paginationParams,
					"responses": schema{
						"200": jsonResponse("Successful response", list(runSchema)),
					},
				},
			},
			"/api/runs/{id}": schema{
				"get": schema{
					"summary": "Get one ingestion run",
					"parameters": []schema{{
						"name":     "id",
						"in":       "path",
						"required": true,
						"schema":   schema{"type": "integer"},
					}},
					"responses": schema{
						"200": jsonResponse("Successful response", runSchema),
						"404": jsonResponse("Run not found", errorSchema),
					},
				},
			},
			"/api/summary": schema{
				"get": schema{
					"summary": "Summarize ingested shapelets",
					"responses": schema{
						"200": jsonResponse("Successful response", summarySchema),
					},
				},
			},
			"/health": schema{
				"get": schema{
					"summary":     "Health check",
					"description": "Check that the API and its database are reachable",
					"responses": schema{
						"200": jsonResponse("API is healthy", object(schema{"status": schema{"type": "string"}})),
						"503": jsonResponse("Database unreachable", object(schema{"status": schema{"type": "string"}})),
					},
				},
			},
			"/metrics": schema{
				"get": schema{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": schema{
						"200": schema{
							"description": "Prometheus metrics in text format",
							"content": schema{
								"text/plain": schema{"schema": schema{"type": "string"}},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
