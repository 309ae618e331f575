package kie

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/provider"
)

// looseString accepts a JSON string, number or null. failCode arrives as any of them.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*s = ""
	case strings.HasPrefix(raw, `"`):
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Errorf("unexpected value %s", raw)
		}
		*s = looseString(raw)
	}
	return nil
}

type callbackPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		TaskID     string      `json:"taskId"`
		State      string      `json:"state"`
		ResultJSON string      `json:"resultJson"`
		FailCode   looseString `json:"failCode"`
		FailMsg    string      `json:"failMsg"`
	} `json:"data"`
}

type resultPayload struct {
	ResultURLs []string `json:"resultUrls"`
}

func (c *Client) ParseWebhook(body []byte) (provider.Update, error) {
	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return provider.Update{}, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if payload.Data == nil || (payload.Data.State == "" && payload.Data.TaskID == "") {
		return provider.Update{}, fmt.Errorf("%w: missing data", provider.ErrMalformedPayload)
	}

	d := payload.Data
	update := provider.Update{
		Status:            statuses.Map(d.State),
		NativeStatus:      d.State,
		ProviderRequestID: d.TaskID,
	}

	switch update.Status {
	case models.TaskCompleted:
		if strings.TrimSpace(d.ResultJSON) == "" {
			break
		}
		var result resultPayload
		if err := json.Unmarshal([]byte(d.ResultJSON), &result); err != nil {
			return provider.Update{}, fmt.Errorf("%w: resultJson: %v", provider.ErrMalformedPayload, err)
		}
		for _, u := range result.ResultURLs {
			if u = strings.TrimSpace(u); u != "" {
				update.Outputs = append(update.Outputs, models.TaskResult{URL: u, Type: "image"})
			}
		}
	case models.TaskFailed:
		update.ErrorCode = string(d.FailCode)
		update.ErrorMessage = d.FailMsg
		if update.ErrorMessage == "" {
			update.ErrorMessage = payload.Msg
		}
	}
	return update, nil
}
