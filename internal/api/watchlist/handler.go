package watchlist

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"finchart-app/internal/domain/watchlist"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// maxItems caps a single user's watchlist; the charting UI renders the
// whole list at once.
const maxItems = 100

// Tickers, crypto pairs ("BTC-USD") and exchange-qualified symbols
// ("TSE:7203") are all fair game.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-:]{1,20}$`)

var (
	errWatchlistFull  = errors.New("watchlist full")
	errDuplicateEntry = errors.New("duplicate symbol")
)

type itemDTO struct {
	ID        uint      `json:"id"`
	Symbol    string    `json:"symbol"`
	Note      string    `json:"note,omitempty"`
	SortIndex int       `json:"sortIndex"`
	CreatedAt time.Time `json:"createdAt"`
}

type addItemRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Note   string `json:"note"`
}

type reorderRequest struct {
	ItemIDs []uint `json:"itemIds" binding:"required"`
}

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func mustUserID(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return userID, true
}

func toItemDTO(it watchlist.WatchlistItem) itemDTO {
	return itemDTO{
		ID:        it.ID,
		Symbol:    it.Symbol,
		Note:      it.Note,
		SortIndex: it.SortIndex,
		CreatedAt: it.CreatedAt,
	}
}

// ------------------------------
// GET /api/watchlist
// ------------------------------
func (h *Handler) List(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var items []watchlist.WatchlistItem
	err := h.db.Where("user_id = ?", userID).
		Order("sort_index ASC, created_at ASC").
		Find(&items).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load watchlist"})
		return
	}

	out := make([]itemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toItemDTO(it))
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

// ------------------------------
// POST /api/watchlist
// ------------------------------
func (h *Handler) Add(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if !symbolPattern.MatchString(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol"})
		return
	}

	var item watchlist.WatchlistItem
	err := h.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&watchlist.WatchlistItem{}).
			Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count >= maxItems {
			return errWatchlistFull
		}

		var dup int64
		if err := tx.Model(&watchlist.WatchlistItem{}).
			Where("user_id = ? AND symbol = ?", userID, symbol).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return errDuplicateEntry
		}

		var next int
		if err := tx.Model(&watchlist.WatchlistItem{}).
			Where("user_id = ?", userID).
			Select("COALESCE(MAX(sort_index)+1, 0)").
			Scan(&next).Error; err != nil {
			return err
		}

		item = watchlist.WatchlistItem{
			UserID:    userID,
			Symbol:    symbol,
			Note:      strings.TrimSpace(req.Note),
			SortIndex: next,
		}
		return tx.Create(&item).Error
	})

	switch {
	case errors.Is(err, errWatchlistFull):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Watchlist is full"})
	case errors.Is(err, errDuplicateEntry):
		c.JSON(http.StatusConflict, gin.H{"error": "Symbol is already on the watchlist"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add symbol"})
	default:
		c.JSON(http.StatusCreated, toItemDTO(item))
	}
}

// ------------------------------
// DELETE /api/watchlist/:id
// ------------------------------
func (h *Handler) Remove(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}

	res := h.db.Where("id = ? AND user_id = ?", id, userID).
		Delete(&watchlist.WatchlistItem{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove symbol"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Watchlist item not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ------------------------------
// PUT /api/watchlist/reorder
// ------------------------------
func (h *Handler) Reorder(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ItemIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "itemIds required"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		for i, id := range req.ItemIDs {
			if err := tx.Model(&watchlist.WatchlistItem{}).
				Where("id = ? AND user_id = ?", id, userID).
				Update("sort_index", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reorder watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
