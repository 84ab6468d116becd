package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// LogHandler serves the caller's audit trail.
type LogHandler struct {
	DB         *gorm.DB
	EncryptKey string
}

func NewLogHandler(db *gorm.DB, encryptKey string) *LogHandler {
	return &LogHandler{DB: db, EncryptKey: encryptKey}
}

type logResp struct {
	ID        uint      `json:"id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Action    string    `json:"action"`
	Status    int       `json:"status"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// decrypt returns the plain text or the stored value if it cannot be decrypted.
func (h *LogHandler) decrypt(enc string) string {
	if enc == "" || h.EncryptKey == "" {
		return enc
	}
	plain, err := util.DecryptField(h.EncryptKey, enc)
	if err != nil {
		return enc
	}
	return plain
}

// ListLogs pages through the audit log of the current scope. Supports page,
// page_size, start and end (YYYY-MM-DD, end inclusive) and q, a keyword
// matched against the decrypted path and action.
func (h *LogHandler) ListLogs(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	start, ok := dateField(c, c.Query("start"))
	if !ok {
		return
	}
	end, ok := dateField(c, c.Query("end"))
	if !ok {
		return
	}

	base := h.DB.WithContext(c.Request.Context()).Model(&models.AuditLog{}).
		Where("user_id = ? AND workspace = ?", scope.UserID, scope.Workspace)
	if !start.IsZero() {
		base = base.Where("created_at >= ?", start)
	}
	if !end.IsZero() {
		base = base.Where("created_at < ?", end.Add(24*time.Hour))
	}

	// ciphertext cannot be searched in SQL, so keyword queries filter in memory
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))

	var (
		logs  []models.AuditLog
		total int64
	)
	ordered := base.Session(&gorm.Session{}).Order("created_at DESC, id DESC")
	if q == "" {
		if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
			return
		}
		if err := ordered.Limit(size).Offset(offset).Find(&logs).Error; err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
			return
		}
	} else {
		if err := ordered.Find(&logs).Error; err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
			return
		}
	}

	items := make([]logResp, 0, len(logs))
	for i := range logs {
		l := &logs[i]
		item := logResp{
			ID:        l.ID,
			Method:    l.Method,
			Path:      h.decrypt(l.PathEnc),
			Action:    h.decrypt(l.ActionEnc),
			Status:    l.Status,
			IP:        l.IP,
			UserAgent: l.UserAgent,
			CreatedAt: l.CreatedAt,
		}
		if q != "" && !strings.Contains(strings.ToLower(item.Path+" "+item.Action), q) {
			continue
		}
		items = append(items, item)
	}

	if q != "" {
		total = int64(len(items))
		switch {
		case offset >= len(items):
			items = items[:0]
		case offset+size < len(items):
			items = items[offset : offset+size]
		default:
			items = items[offset:]
		}
	}

	util.Success(c, util.Response{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}
