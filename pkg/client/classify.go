package client

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
)

// safetyFinishReasons are candidate finish reasons that mean the content was
// refused.
var safetyFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"IMAGE_SAFETY":       true,
	"SPII":               true,
}

// classifyResponse turns a non-2xx response into a classified error.
func classifyResponse(statusCode int, body []byte) *apierror.Error {
	var env errorResponse
	_ = json.Unmarshal(body, &env)

	message := strings.TrimSpace(env.Error.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return apierror.New(classifyStatus(statusCode, env), statusCode, message)
}

func classifyStatus(statusCode int, env errorResponse) apierror.ErrorClass {
	status := env.Error.Status
	for _, d := range env.Error.Details {
		if d.Reason == "API_KEY_INVALID" {
			return apierror.ClassAuth
		}
	}

	switch {
	case statusCode == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return apierror.ClassQuota
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return apierror.ClassAuth
	case statusCode == http.StatusBadRequest && strings.Contains(env.Error.Message, "API key not valid"):
		return apierror.ClassAuth
	default:
		return apierror.ClassTransient
	}
}

// classifyContent checks a 200 response for safety refusals.
func classifyContent(resp generateContentResponse) *apierror.Error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return apierror.New(apierror.ClassSafety, http.StatusOK, "prompt blocked: "+resp.PromptFeedback.BlockReason)
	}
	for _, c := range resp.Candidates {
		if safetyFinishReasons[c.FinishReason] {
			return apierror.New(apierror.ClassSafety, http.StatusOK, "candidate blocked: "+c.FinishReason)
		}
	}
	return nil
}
