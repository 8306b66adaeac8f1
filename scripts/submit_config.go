// submit_config.go drives a mashupd instance from a YAML run file: it opens
// a session, applies the analyte selection, ranks and thresholds, submits,
// and prints the scoring outcome.
//
// Usage:
//
//	go run scripts/submit_config.go -run run.yaml -api http://localhost:8700
//
// Example run file:
//
//	sitename: Site A
//	bmpname: Bioretention 1
//	mode: strict
//	percentile: 0.5
//	multi_band: false
//	confirm: true
//	analytes:
//	  - name: TSS
//	    rank: 1
//	  - name: TP
//	    value: 0.2
//	  - name: Zn
//	    active: false
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type analyteRun struct {
	Name       string   `yaml:"name"`
	Active     *bool    `yaml:"active"`
	Rank       int      `yaml:"rank"`
	Percentile *float64 `yaml:"percentile"`
	Value      *float64 `yaml:"value"`
}

type runFile struct {
	Site       string       `yaml:"sitename"`
	BMP        string       `yaml:"bmpname"`
	Mode       string       `yaml:"mode"`
	Percentile *float64     `yaml:"percentile"`
	MultiBand  bool         `yaml:"multi_band"`
	Confirm    bool         `yaml:"confirm"`
	Analytes   []analyteRun `yaml:"analytes"`
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", "submit-config")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

type sessionView struct {
	ID       string `json:"id"`
	Analytes []struct {
		Name   string `json:"analytename"`
		Status string `json:"status"`
	} `json:"analytes"`
}

func main() {
	runPath := flag.String("run", "run.yaml", "path to YAML run file")
	apiURL := flag.String("api", "http://localhost:8700", "mashupd API base URL")
	keep := flag.Bool("keep", false, "leave the session open after submitting")
	flag.Parse()

	data, err := os.ReadFile(*runPath)
	if err != nil {
		log.Fatalf("read run file: %v", err)
	}
	var run runFile
	if err := yaml.Unmarshal(data, &run); err != nil {
		log.Fatalf("parse run file: %v", err)
	}
	if run.Site == "" || run.BMP == "" {
		log.Fatal("run file needs sitename and bmpname")
	}

	c := &client{base: *apiURL + "/api/v1", http: &http.Client{Timeout: 2 * time.Minute}}

	var view sessionView
	if err := c.call("POST", "/sessions", map[string]string{
		"sitename": run.Site, "bmpname": run.BMP, "mode": run.Mode,
	}, &view); err != nil {
		log.Fatalf("open session: %v", err)
	}
	base := "/sessions/" + view.ID
	log.Printf("session %s opened with %d analytes", view.ID, len(view.Analytes))
	if !*keep {
		defer func() {
			if err := c.call("DELETE", base, nil, nil); err != nil {
				log.Printf("close session: %v", err)
			}
		}()
	}

	if run.Percentile != nil {
		must(c.call("PUT", base+"/percentiles", map[string]float64{"percentile": *run.Percentile}, nil))
	}
	for _, a := range run.Analytes {
		path := base + "/analytes/" + url.PathEscape(a.Name)
		if a.Active != nil && !*a.Active {
			must(c.call("POST", path+"/deactivate", nil, nil))
			continue
		}
		must(c.call("POST", path+"/activate", nil, nil))
		if a.Rank != 0 {
			must(c.call("PUT", path+"/rank", map[string]int{"rank": a.Rank}, nil))
		}
		if a.Percentile != nil {
			must(c.call("PUT", path+"/percentile", map[string]float64{"percentile": *a.Percentile}, nil))
		}
		if a.Value != nil {
			must(c.call("PUT", path+"/value", map[string]float64{"value": *a.Value}, nil))
		}
	}

	waitSettled(c, base)

	var result json.RawMessage
	if err := c.call("POST", base+"/submit", map[string]bool{
		"confirm": run.Confirm, "multi_band": run.MultiBand,
	}, &result); err != nil {
		log.Fatalf("submit: %v", err)
	}

	var pretty bytes.Buffer
	_ = json.Indent(&pretty, result, "", "  ")
	fmt.Println(pretty.String())
}

// waitSettled polls until no threshold lookup is pending, giving up after
// thirty seconds.
func waitSettled(c *client, base string) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var v sessionView
		must(c.call("GET", base, nil, &v))
		pending := 0
		for _, a := range v.Analytes {
			if a.Status == "pending" {
				pending++
			}
		}
		if pending == 0 {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	log.Printf("threshold lookups still pending, submitting anyway")
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
