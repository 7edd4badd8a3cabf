package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// httpCmd calls one of the server's loopback admin endpoints and prints the
// response body.
func httpCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	cl := &http.Client{Timeout: 10 * time.Second}
	status, body, err := adminRequest(cl, *baseURL, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(strings.TrimSpace(string(body)))
	if status/100 != 2 {
		os.Exit(1)
	}
}

func adminRequest(cl *http.Client, baseURL, name string) (int, []byte, error) {
	method := http.MethodPost
	if name == "state" {
		method = http.MethodGet
	}
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/" + name
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}
