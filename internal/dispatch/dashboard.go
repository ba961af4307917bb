package dispatch

import (
	"context"
	"fmt"
	"time"

	"concierge/internal/feed"
	"concierge/internal/intent"
	"concierge/internal/render"
	"concierge/internal/schedule"
)

// ProcessChat resolves text from the dashboard chat box and returns
// the reply synchronously. Unlike the messaging path it waits for
// render results instead of sending follow-up messages.
func (d *Dispatcher) ProcessChat(ctx context.Context, text string) (string, error) {
	action := d.resolver.Resolve(text)
	intentsTotal.WithLabelValues(string(action.Kind)).Inc()

	switch action.Kind {
	case intent.KindShowCatalog, intent.KindGreeting:
		return d.catalog.NumberedList(), nil

	case intent.KindPing:
		return "pong", nil

	case intent.KindTestReply:
		return "تم الاستلام بنجاح ✅", nil

	case intent.KindListProducts:
		return d.products.ListText(), nil

	case intent.KindAskWhichProduct:
		return askWhichProductText, nil

	case intent.KindSelect:
		svc, ok := d.catalog.At(action.Index)
		if !ok {
			return fallbackText, nil
		}
		reply := svc.Requirements
		if svc.IsJobsService() && d.feed != nil {
			reply += "\n\n" + feed.DigestText(d.feed.Cached(ctx))
		}
		return reply, nil

	case intent.KindPromo:
		text := action.Product.Name
		if action.Product.Description != "" {
			text += " - " + action.Product.Description
		}
		result, err := d.runRender(ctx, render.NewJob(render.KindPromo, text, action.Product.ID+".mp4"))
		if err != nil {
			return "", err
		}
		if result.Err != nil {
			return "video generation failed: " + result.Err.Error(), nil
		}
		date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
		post := schedule.PostRecord{VideoPath: result.VideoPath, Caption: action.Product.PromoCaption(), Time: d.postTime}
		if err := d.schedule.AddPost(date, post); err != nil {
			return "", err
		}
		return fmt.Sprintf("تم تجهيز الإعلان وجدولته ليوم %s الساعة %s. ✅", date, d.postTime), nil

	case intent.KindReplenish:
		result, err := d.runRender(ctx, render.NewJob(render.KindReplenish, "", "batch"))
		if err != nil {
			return "", err
		}
		if result.Err != nil {
			return "video generation failed: " + result.Err.Error(), nil
		}
		return "تم تجهيز الدفعة الجديدة بنجاح. ✅", nil

	default:
		return fallbackText, nil
	}
}

// GeneratePost renders a one-off video for the given text and
// schedules it for the next day. Used by the dashboard generate
// endpoint.
func (d *Dispatcher) GeneratePost(ctx context.Context, text string) (schedule.PostRecord, string, error) {
	outputName := fmt.Sprintf("generated_%d.mp4", time.Now().Unix())
	job := render.NewJob(render.KindPromo, text, outputName)
	result, err := d.runRender(ctx, job)
	if err != nil {
		return schedule.PostRecord{}, "", err
	}
	if result.Err != nil {
		return schedule.PostRecord{}, "", fmt.Errorf("video generation failed: %w", result.Err)
	}

	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	post := schedule.PostRecord{VideoPath: result.VideoPath, Caption: text, Time: d.postTime}
	if err := d.schedule.AddPost(date, post); err != nil {
		return schedule.PostRecord{}, "", err
	}
	return post, date, nil
}

func (d *Dispatcher) runRender(ctx context.Context, job render.Job) (render.Result, error) {
	done, err := d.renders.Submit(job)
	if err != nil {
		return render.Result{}, err
	}
	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return render.Result{}, ctx.Err()
	}
}
