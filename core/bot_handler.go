package core

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BotHandler serves the chat-platform webhooks (/bot/feishu, /bot/dingtalk).
// Messages mentioning stock codes trigger analysis submissions attributed to
// the system identity. Webhooks bypass the session gate and authenticate
// with a per-platform shared secret instead.
type BotHandler struct {
	secrets  map[string]string
	analysis *AnalysisService
}

func NewBotHandler(secrets map[string]string, analysis *AnalysisService) *BotHandler {
	return &BotHandler{secrets: secrets, analysis: analysis}
}

// botSystemUserID attributes webhook-triggered tasks.
const botSystemUserID = 0

type feishuEnvelope struct {
	Challenge string `json:"challenge"`
	Event     struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"event"`
}

type dingtalkEnvelope struct {
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
}

// Handle is mounted at /bot/:platform.
func (h *BotHandler) Handle(c *gin.Context) {
	platform := c.Param("platform")
	secret, ok := h.secrets[platform]
	if !ok || secret == "" {
		respondError(c, http.StatusNotFound, "unknown bot platform")
		return
	}

	token := c.GetHeader("X-Bot-Token")
	if token == "" {
		token = c.Query("token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		respondError(c, http.StatusUnauthorized, "invalid bot token")
		return
	}

	var text string
	switch platform {
	case "feishu":
		var env feishuEnvelope
		if err := c.ShouldBindJSON(&env); err != nil {
			respondError(c, http.StatusBadRequest, "invalid payload")
			return
		}
		// URL verification handshake.
		if env.Challenge != "" {
			c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
			return
		}
		text = feishuMessageText(env.Event.Message.Content)
	case "dingtalk":
		var env dingtalkEnvelope
		if err := c.ShouldBindJSON(&env); err != nil {
			respondError(c, http.StatusBadRequest, "invalid payload")
			return
		}
		text = env.Text.Content
	default:
		respondError(c, http.StatusNotFound, "unknown bot platform")
		return
	}

	codes := extractStockCodes(text)
	if len(codes) == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "submitted": []string{}, "message": "no stock codes found"})
		return
	}

	submitted := make([]string, 0, len(codes))
	for _, code := range codes {
		res, err := h.analysis.Submit(c.Request.Context(), botSystemUserID, code, ReportTypeSimple, false)
		if err != nil {
			log.Printf("bot %s: submit %s: %v", platform, code, err)
			continue
		}
		submitted = append(submitted, res.TaskID)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "submitted": submitted})
}

// feishuMessageText unwraps the inner content JSON ({"text":"..."}). Falls
// back to the raw string for plain-text test payloads.
func feishuMessageText(content string) string {
	var inner struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &inner); err == nil && inner.Text != "" {
		return inner.Text
	}
	return content
}

// extractStockCodes picks valid stock codes out of free-form message text.
// US tickers must already be uppercase in the message; otherwise ordinary
// short English words would read as symbols. A-share and HK codes are
// unambiguous and get case-normalized.
func extractStockCodes(text string) []string {
	fields := strings.Fields(text)
	seen := make(map[string]struct{}, len(fields))
	var codes []string
	for _, f := range fields {
		token := strings.Trim(f, ",.;:!?@#")
		code := strings.ToUpper(token)
		if usCodePattern.MatchString(code) && token != code {
			continue
		}
		if ValidateStockCode(code) != nil {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}
