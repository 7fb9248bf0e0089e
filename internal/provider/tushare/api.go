package tushare

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strconv"
    "strings"

    "quotehub/internal/provider"
)

type apiRequest struct {
    APIName string         `json:"api_name"`
    Token   string         `json:"token"`
    Params  map[string]any `json:"params,omitempty"`
    Fields  string         `json:"fields,omitempty"`
}

type apiResponse struct {
    Code int      `json:"code"`
    Msg  string   `json:"msg"`
    Data *Dataset `json:"data"`
}

// Dataset is the columnar result shape every Tushare api_name returns.
type Dataset struct {
    Fields []string `json:"fields"`
    Items  [][]any  `json:"items"`
}

// Index returns the column position of field, or -1.
func (d *Dataset) Index(field string) int {
    for i, f := range d.Fields {
        if f == field {
            return i
        }
    }
    return -1
}

// Rows pivots the columnar payload into one map per row.
func (d *Dataset) Rows() []map[string]any {
    rows := make([]map[string]any, 0, len(d.Items))
    for _, item := range d.Items {
        row := make(map[string]any, len(d.Fields))
        for i, f := range d.Fields {
            if i < len(item) {
                row[f] = item[i]
            }
        }
        rows = append(rows, row)
    }
    return rows
}

// Call invokes one api_name with params and an optional field projection.
// A non-zero vendor code whose message reads as a tier rejection is mapped
// onto provider.ErrPermissionDenied so tier detection can match on it.
func (c *Client) Call(ctx context.Context, apiName string, params map[string]any, fields string) (*Dataset, error) {
    body, err := json.Marshal(apiRequest{
        APIName: apiName,
        Token:   c.token,
        Params:  params,
        Fields:  fields,
    })
    if err != nil {
        return nil, fmt.Errorf("encoding request: %w", err)
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
    if err != nil {
        return nil, fmt.Errorf("creating request: %w", err)
    }
    req.Header = c.header.Clone()
    req.Header.Set("Content-Type", "application/json")

    res, err := c.httpClient.Do(req)
    if err != nil {
        return nil, fmt.Errorf("performing request: %w", err)
    }
    defer res.Body.Close()

    if res.StatusCode != http.StatusOK {
        return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
    }

    dec := json.NewDecoder(res.Body)
    dec.UseNumber()
    var resp apiResponse
    if err := dec.Decode(&resp); err != nil {
        return nil, fmt.Errorf("decoding %s response: %w", apiName, err)
    }
    if resp.Code != 0 {
        if isPermissionDenied(resp.Msg) {
            return nil, fmt.Errorf("%s: %s: %w", apiName, resp.Msg, provider.ErrPermissionDenied)
        }
        return nil, fmt.Errorf("%s: code %d: %s", apiName, resp.Code, resp.Msg)
    }
    if resp.Data == nil {
        return &Dataset{}, nil
    }
    return resp.Data, nil
}

// isPermissionDenied matches the vendor's tier-rejection wording, which comes
// back as a zh-CN message about permissions or credit points.
func isPermissionDenied(msg string) bool {
    m := strings.ToLower(msg)
    return strings.Contains(m, "权限") ||
        strings.Contains(m, "积分") ||
        strings.Contains(m, "permission")
}

func asFloat(v any) float64 {
    switch x := v.(type) {
    case json.Number:
        f, _ := x.Float64()
        return f
    case float64:
        return x
    case string:
        f, _ := strconv.ParseFloat(x, 64)
        return f
    default:
        return 0
    }
}

func asString(v any) string {
    switch x := v.(type) {
    case string:
        return x
    case json.Number:
        return x.String()
    default:
        return ""
    }
}
