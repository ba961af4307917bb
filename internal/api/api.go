package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"concierge/internal/catalog"
	"concierge/internal/dispatch"
	"concierge/internal/feed"
	"concierge/internal/render"
	"concierge/internal/schedule"
	"concierge/internal/transport"
	"concierge/pkg/logging"
)

// API exposes the dashboard endpoints over the schedule store, feed
// cache and dispatcher.
type API struct {
	store      *schedule.Store
	fetcher    *feed.Fetcher
	dispatcher *dispatch.Dispatcher
	products   *catalog.ProductStore
	logger     logging.Logger
}

type addPostRequest struct {
	Date      string   `json:"date" binding:"required"`
	VideoPath string   `json:"video_path" binding:"required"`
	Caption   string   `json:"caption"`
	Time      string   `json:"time"`
	Hashtags  []string `json:"hashtags"`
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type inboundRequest struct {
	From     string `json:"from" binding:"required"`
	Body     string `json:"body"`
	FromMe   bool   `json:"from_me"`
	IsGroup  bool   `json:"is_group"`
	PushName string `json:"push_name"`
	Number   string `json:"number"`
}

type generateRequest struct {
	Text string `json:"text" binding:"required"`
}

func New(store *schedule.Store, fetcher *feed.Fetcher, dispatcher *dispatch.Dispatcher, products *catalog.ProductStore, logger logging.Logger) *API {
	return &API{
		store:      store,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		products:   products,
		logger:     logger,
	}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api")
	group.GET("/schedule", a.handleListSchedule)
	group.POST("/schedule", a.handleAddPost)
	group.DELETE("/schedule/:date/:index", a.handleDeletePost)
	group.POST("/schedule/generate", a.handleGenerate)
	group.GET("/feed", a.handleFeed)
	group.GET("/products", a.handleProducts)
	group.POST("/chat", a.handleChat)
	group.POST("/inbound", a.handleInbound)
}

func (a *API) handleListSchedule(c *gin.Context) {
	all := a.store.ListAll()
	dates := a.store.Dates()
	type dayView struct {
		Date  string                `json:"date"`
		Posts []schedule.PostRecord `json:"posts"`
	}
	days := make([]dayView, 0, len(dates))
	for _, date := range dates {
		days = append(days, dayView{Date: date, Posts: all[date]})
	}
	c.JSON(http.StatusOK, gin.H{"schedule": days})
}

func (a *API) handleAddPost(c *gin.Context) {
	var req addPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	post := schedule.PostRecord{
		VideoPath: req.VideoPath,
		Caption:   req.Caption,
		Time:      req.Time,
		Hashtags:  req.Hashtags,
	}
	if err := a.store.AddPost(req.Date, post); err != nil {
		a.logger.WithError(err).Error("Failed to add scheduled post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist post"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"date": req.Date, "posts": a.store.Posts(req.Date)})
}

func (a *API) handleDeletePost(c *gin.Context) {
	date := c.Param("date")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	deleted, err := a.store.DeletePost(date, index)
	if err != nil {
		a.logger.WithError(err).Error("Failed to delete scheduled post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist deletion"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (a *API) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	post, date, err := a.dispatcher.GeneratePost(c.Request.Context(), req.Text)
	if err != nil {
		if errors.Is(err, render.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "render queue is full"})
			return
		}
		a.logger.WithError(err).Error("Failed to generate scheduled post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"date": date, "post": post})
}

func (a *API) handleFeed(c *gin.Context) {
	items := a.fetcher.Cached(c.Request.Context())
	if items == nil {
		items = []feed.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (a *API) handleProducts(c *gin.Context) {
	products := a.products.All()
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (a *API) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := a.dispatcher.ProcessChat(c.Request.Context(), req.Message)
	if err != nil {
		if errors.Is(err, render.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "render queue is full"})
			return
		}
		a.logger.WithError(err).Error("Failed to process dashboard chat message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// handleInbound receives transport webhook events. Processing is
// asynchronous; replies go out through the sender capability.
func (a *API) handleInbound(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg := transport.Message{
		From:     req.From,
		Body:     req.Body,
		FromMe:   req.FromMe,
		IsGroup:  req.IsGroup,
		PushName: req.PushName,
		Number:   req.Number,
	}
	go a.dispatcher.HandleMessage(context.Background(), msg)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
