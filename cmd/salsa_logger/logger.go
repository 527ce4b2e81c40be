// Command salsa_logger records telescope status pushes in InfluxDB.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

type Config struct {
	InfluxServer string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	// SalsaAddress is the base HTTP URL of the salsa server.
	SalsaAddress string
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// LoadConfig reads the environment, after an optional .env file.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("loading .env: %v", err)
	}
	return Config{
		InfluxServer: getEnv("INFLUX_SERVER", "http://localhost:9999"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    getEnv("INFLUX_ORG", "w1xm"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "salsa.raw"),
		SalsaAddress: strings.TrimSuffix(getEnv("SALSA_ADDRESS", "http://localhost:8502"), "/"),
	}
}

func main() {
	cfg := LoadConfig()
	// Create client
	client := influxdb2.NewClient(cfg.InfluxServer, cfg.InfluxToken)
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(cfg.InfluxOrg, cfg.InfluxBucket)
	defer writeApi.Close()
	// Get errors channel
	errorsCh := writeApi.Errors()
	// Create go proc for reading and logging errors
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()

	var names []string
	for {
		var err error
		names, err = telescopes(cfg.SalsaAddress)
		if err == nil {
			break
		}
		log.Print(err)
		time.Sleep(1 * time.Second)
	}
	for _, name := range names {
		name := name
		go func() {
			for {
				if err := logData(writeApi, socketURL(cfg.SalsaAddress, name)); err != nil {
					log.Printf("%s: %v", name, err)
				}
				time.Sleep(1 * time.Second)
			}
		}()
	}
	select {}
}

func telescopes(base string) ([]string, error) {
	resp, err := http.Get(base + "/api/telescopes")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing telescopes: %s", resp.Status)
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("listing telescopes: %w", err)
	}
	return names, nil
}

func socketURL(base, name string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/api/telescopes/" + name + "/ws"
}

func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		fields[prefix[1:]] = status
	}
}

// statusFields converts a status push to point tags and fields. Command
// replies and the spectrum arrays are skipped.
func statusFields(status map[string]interface{}) (map[string]string, map[string]interface{}, bool) {
	id, ok := status["id"].(string)
	if !ok {
		return nil, nil, false
	}
	if obs, ok := status["latest_observation"].(map[string]interface{}); ok {
		if amps, ok := obs["amplitudes"].([]interface{}); ok {
			obs["channels"] = len(amps)
		}
		delete(obs, "frequencies")
		delete(obs, "amplitudes")
	}
	delete(status, "id")
	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")
	return map[string]string{"telescope": id}, fields, true
}

func logData(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("opened %q", url)
	for {
		var status map[string]interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		tags, fields, ok := statusFields(status)
		if !ok {
			continue
		}
		p := influxdb2.NewPoint("salsa.status",
			tags,
			fields,
			time.Now(),
		)
		// write asynchronously
		writeApi.WritePoint(p)
	}
}
