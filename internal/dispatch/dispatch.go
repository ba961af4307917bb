package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"concierge/internal/catalog"
	"concierge/internal/crm"
	"concierge/internal/feed"
	"concierge/internal/intent"
	"concierge/internal/render"
	"concierge/internal/schedule"
	"concierge/internal/session"
	"concierge/internal/transport"
	"concierge/pkg/logging"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "dispatch",
		Name:      "messages_total",
		Help:      "Inbound messages by outcome",
	}, []string{"outcome"})

	intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "dispatch",
		Name:      "intents_total",
		Help:      "Resolved intents by action kind",
	}, []string{"action"})
)

const (
	welcomeText         = "مرحباً بك! 👋\nنقدم لك الخدمات التالية، أرسل رقم الخدمة للاطلاع على التفاصيل:"
	fallbackText        = "عذراً، لم أفهم طلبك. أرسل *خدمات* لعرض قائمة الخدمات، أو رقم الخدمة مباشرة."
	askWhichProductText = "عن أي منتج تريد عمل الإعلان؟ أرسل اسم المنتج أو *منتجات* لعرض القائمة."
	promoQueuedText     = "جاري تجهيز الإعلان، سيصلك إشعار عند الانتهاء. 🎬"
	replenishQueuedText = "تم بدء تجهيز دفعة جديدة من الفيديوهات. 📹"
	queueBusyText       = "النظام مشغول حالياً بتجهيز فيديوهات أخرى، حاول بعد قليل."
	internalErrorText   = "حدث خطأ داخلي، حاول مرة أخرى."
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Catalog        *catalog.Catalog
	Products       *catalog.ProductStore
	Resolver       *intent.Resolver
	Sessions       *session.Store
	Seen           *session.SeenSet
	Schedule       *schedule.Store
	Feed           *feed.Fetcher
	Renders        *render.Queue
	CRM            *crm.Client
	Sender         transport.Sender
	AdminID        string
	VIPIDs         []string
	PostTime       string
	BroadcastDelay time.Duration
	// DisableAutoReply turns the conversation flow off for regular
	// users; commands keep working.
	DisableAutoReply bool
	Logger           logging.Logger
}

// Dispatcher receives inbound messages, consults the conversation
// state, resolves the intent and executes its side effects. Replies
// are sent before slow collaborators finish.
type Dispatcher struct {
	catalog        *catalog.Catalog
	products       *catalog.ProductStore
	resolver       *intent.Resolver
	sessions       *session.Store
	seen           *session.SeenSet
	schedule       *schedule.Store
	feed           *feed.Fetcher
	renders        *render.Queue
	crm            *crm.Client
	sender         transport.Sender
	adminID        string
	vipIDs         map[string]struct{}
	postTime       string
	broadcastDelay time.Duration
	autoReply      bool
	logger         logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config) *Dispatcher {
	vips := make(map[string]struct{}, len(cfg.VIPIDs))
	for _, id := range cfg.VIPIDs {
		vips[id] = struct{}{}
	}
	postTime := cfg.PostTime
	if postTime == "" {
		postTime = "18:00"
	}
	delay := cfg.BroadcastDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Dispatcher{
		catalog:        cfg.Catalog,
		products:       cfg.Products,
		resolver:       cfg.Resolver,
		sessions:       cfg.Sessions,
		seen:           cfg.Seen,
		schedule:       cfg.Schedule,
		feed:           cfg.Feed,
		renders:        cfg.Renders,
		crm:            cfg.CRM,
		sender:         cfg.Sender,
		adminID:        cfg.AdminID,
		vipIDs:         vips,
		postTime:       postTime,
		broadcastDelay: delay,
		autoReply:      !cfg.DisableAutoReply,
		logger:         cfg.Logger,
	}
}

// conversationLock serializes processing per conversation so each
// message observes the state written by the previous one.
func (d *Dispatcher) conversationLock(conversationID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks == nil {
		d.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := d.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[conversationID] = lock
	}
	return lock
}

// HandleMessage processes one inbound transport event.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).WithField("from", msg.From).Error("Message handling panicked")
			messagesTotal.WithLabelValues("panic").Inc()
			d.reply(ctx, msg.From, internalErrorText)
		}
	}()

	if msg.IsGroup {
		messagesTotal.WithLabelValues("group_ignored").Inc()
		return
	}
	text := strings.TrimSpace(msg.Body)
	if text == "" {
		messagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	lock := d.conversationLock(msg.From)
	lock.Lock()
	defer lock.Unlock()

	action := d.resolver.Resolve(text)
	if action.AdminOnly() && msg.From != d.adminID {
		action = intent.Action{Kind: intent.KindFallback}
	}
	intentsTotal.WithLabelValues(string(action.Kind)).Inc()

	// Ignore our own outgoing messages except for a small command
	// allow-list, so the assistant never reacts to its own output.
	if msg.FromMe && !selfAllowed(action) {
		messagesTotal.WithLabelValues("self_ignored").Inc()
		return
	}

	// VIP conversations always get the catalog, regardless of state.
	if _, vip := d.vipIDs[msg.From]; vip {
		d.sendCatalog(ctx, msg.From, false)
		d.sessions.Set(msg.From, session.StateSelecting)
		messagesTotal.WithLabelValues("vip_catalog").Inc()
		return
	}

	// One-time welcome for identifiers never seen before.
	if !d.seen.Contains(msg.From) && !msg.FromMe {
		d.seen.MarkSeen(msg.From)
		d.sendCatalog(ctx, msg.From, true)
		d.sessions.Set(msg.From, session.StateSelecting)
		messagesTotal.WithLabelValues("first_contact").Inc()
		return
	}

	outcome := d.advance(ctx, msg, action)
	messagesTotal.WithLabelValues(outcome).Inc()
}

func selfAllowed(action intent.Action) bool {
	switch action.Kind {
	case intent.KindBroadcast, intent.KindBroadcastService, intent.KindSelect, intent.KindTestReply:
		return true
	}
	return false
}

// advance routes a message through the conversation state table. The
// table is total for regular users: whatever the resolved action,
// INITIAL gets the welcome catalog, SELECTING accepts only a selection
// and closes silently on anything else, COMPLETED wakes only for a
// selection or a catalog request. Messages from the assistant's own
// account and from the admin skip the table so commands work from any
// state, matching the transport's self-message exemption.
func (d *Dispatcher) advance(ctx context.Context, msg transport.Message, action intent.Action) string {
	if msg.FromMe || msg.From == d.adminID || !d.autoReply {
		return d.execute(ctx, msg, action)
	}

	switch d.sessions.Get(msg.From) {
	case session.StateInitial:
		d.sendCatalog(ctx, msg.From, true)
		d.sessions.Set(msg.From, session.StateSelecting)
		return "welcomed"

	case session.StateSelecting:
		if action.Kind == intent.KindSelect {
			d.selectService(ctx, msg, action.Index)
			return "selected"
		}
		// Stop nagging: anything but a selection closes the flow.
		d.sessions.Set(msg.From, session.StateCompleted)
		return "selection_abandoned"

	default:
		switch action.Kind {
		case intent.KindSelect:
			d.selectService(ctx, msg, action.Index)
			return "selected"
		case intent.KindShowCatalog, intent.KindTestReply:
			d.sendCatalog(ctx, msg.From, true)
			d.sessions.Set(msg.From, session.StateSelecting)
			return "reopened"
		default:
			return "ignored_completed"
		}
	}
}

// execute runs actions outside the conversation flow: owner and admin
// commands, and everything when auto-reply is disabled.
func (d *Dispatcher) execute(ctx context.Context, msg transport.Message, action intent.Action) string {
	switch action.Kind {
	case intent.KindSelect:
		d.selectService(ctx, msg, action.Index)
		return "selected"

	case intent.KindShowCatalog, intent.KindGreeting:
		d.sendCatalog(ctx, msg.From, action.Kind == intent.KindGreeting)
		d.sessions.Set(msg.From, session.StateSelecting)
		return "catalog_sent"

	case intent.KindPing:
		d.reply(ctx, msg.From, "pong")
		return "ping"

	case intent.KindTestReply:
		d.reply(ctx, msg.From, "تم الاستلام بنجاح ✅")
		return "test"

	case intent.KindListProducts:
		d.reply(ctx, msg.From, d.products.ListText())
		return "products_listed"

	case intent.KindAskWhichProduct:
		d.reply(ctx, msg.From, askWhichProductText)
		return "promo_asked"

	case intent.KindPromo:
		return d.startPromo(ctx, msg.From, action.Product)

	case intent.KindReplenish:
		return d.startReplenish(ctx, msg.From)

	case intent.KindBroadcast:
		d.broadcast(ctx, msg.From, action.Text)
		return "broadcast"

	case intent.KindBroadcastService:
		svc, ok := d.catalog.At(action.Index)
		if !ok {
			d.reply(ctx, msg.From, fallbackText)
			return "fallback"
		}
		d.broadcast(ctx, msg.From, svc.Name+"\n\n"+svc.Requirements)
		return "broadcast"

	default:
		if msg.From == d.adminID {
			d.reply(ctx, msg.From, fallbackText)
		}
		return "fallback"
	}
}

// selectService sends a service's requirements and fires the
// collaterals: CRM sync always, jobs digest for the jobs entry.
func (d *Dispatcher) selectService(ctx context.Context, msg transport.Message, index int) {
	svc, ok := d.catalog.At(index)
	if !ok {
		d.reply(ctx, msg.From, fallbackText)
		return
	}

	d.reply(ctx, msg.From, svc.Requirements)
	d.sessions.Set(msg.From, session.StateCompleted)

	if svc.IsJobsService() && d.feed != nil {
		d.reply(ctx, msg.From, feed.DigestText(d.feed.Cached(ctx)))
	}

	if d.crm != nil && d.crm.Enabled() {
		phone := msg.Number
		if phone == "" {
			phone = strings.TrimSuffix(msg.From, "@c.us")
		}
		name := msg.PushName
		go func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.crm.AddContact(syncCtx, phone, name, svc.Name); err != nil {
				d.logger.WithError(err).WithField("phone", phone).Warn("CRM contact sync failed")
			}
		}()
	}
}

// startPromo queues a render for the product and replies immediately;
// the outcome is reported in a follow-up message.
func (d *Dispatcher) startPromo(ctx context.Context, conversationID string, product catalog.Product) string {
	text := product.Name
	if product.Description != "" {
		text += " - " + product.Description
	}
	job := render.NewJob(render.KindPromo, text, product.ID+".mp4")
	done, err := d.renders.Submit(job)
	if err != nil {
		d.reply(ctx, conversationID, queueBusyText)
		return "render_rejected"
	}
	d.reply(ctx, conversationID, promoQueuedText)

	go d.awaitRender(conversationID, product.PromoCaption(), done)
	return "promo_queued"
}

func (d *Dispatcher) startReplenish(ctx context.Context, conversationID string) string {
	job := render.NewJob(render.KindReplenish, "", "batch")
	done, err := d.renders.Submit(job)
	if err != nil {
		d.reply(ctx, conversationID, queueBusyText)
		return "render_rejected"
	}
	d.reply(ctx, conversationID, replenishQueuedText)

	go func() {
		res := <-done
		notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if res.Err != nil {
			d.reply(notifyCtx, conversationID, "video generation failed: "+res.Err.Error())
			return
		}
		d.reply(notifyCtx, conversationID, "تم تجهيز الدفعة الجديدة بنجاح. ✅")
	}()
	return "replenish_queued"
}

// awaitRender waits for a render result, schedules the finished video
// for the next day and notifies the requester. Failures produce the
// plain-text error reply; they never undo the already-sent reply.
func (d *Dispatcher) awaitRender(conversationID, caption string, done <-chan render.Result) {
	res := <-done
	notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if res.Err != nil {
		d.reply(notifyCtx, conversationID, "video generation failed: "+res.Err.Error())
		return
	}

	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	post := schedule.PostRecord{
		VideoPath: res.VideoPath,
		Caption:   caption,
		Time:      d.postTime,
	}
	if err := d.schedule.AddPost(date, post); err != nil {
		d.logger.WithError(err).WithField("date", date).Error("Failed to schedule rendered video")
		d.reply(notifyCtx, conversationID, "تم تجهيز الفيديو لكن تعذرت جدولته، حاول مرة أخرى.")
		return
	}
	d.reply(notifyCtx, conversationID, fmt.Sprintf("تم تجهيز الإعلان وجدولته ليوم %s الساعة %s. ✅", date, d.postTime))
}

// broadcast fans a message out to every private chat, sequentially
// with a fixed delay to stay under transport rate limits.
func (d *Dispatcher) broadcast(ctx context.Context, adminID, text string) {
	chats, err := d.sender.Chats(ctx)
	if err != nil {
		d.logger.WithError(err).Error("Failed to list chats for broadcast")
		d.reply(ctx, adminID, "تعذر جلب قائمة المحادثات للبث.")
		return
	}

	sent := 0
	for _, chat := range chats {
		if chat.IsGroup || chat.ID == adminID {
			continue
		}
		if err := d.sender.SendReply(ctx, chat.ID, text); err != nil {
			d.logger.WithError(err).WithField("chat_id", chat.ID).Warn("Broadcast send failed")
			continue
		}
		sent++
		time.Sleep(d.broadcastDelay)
	}

	d.logger.WithField("count", sent).Info("Broadcast complete")
	d.reply(ctx, adminID, fmt.Sprintf("تم إرسال البث إلى %d محادثة. ✅", sent))
}

func (d *Dispatcher) sendCatalog(ctx context.Context, conversationID string, withWelcome bool) {
	text := d.catalog.NumberedList()
	if withWelcome {
		text = welcomeText + "\n\n" + text
	}
	d.reply(ctx, conversationID, text)
}

func (d *Dispatcher) reply(ctx context.Context, conversationID, text string) {
	if err := d.sender.SendReply(ctx, conversationID, text); err != nil {
		d.logger.WithError(err).WithField("conversation_id", conversationID).Warn("Failed to send reply")
	}
}
