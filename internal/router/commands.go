package router

import (
	"context"
	"errors"

	"stockwatch/internal/tracker"
	logx "stockwatch/pkg/logx"
	"stockwatch/pkg/tgui"
)

type Command struct {
	Name        string
	Description string
	Handle      HandlerFunc
}

func (r *Router) commands() []Command {
	return []Command{
		{Name: "start", Description: "show the greeting", Handle: r.cmdStart},
		{Name: "track", Description: "track a product for your pincode", Handle: r.cmdTrack},
		{Name: "status", Description: "show the latest availability report", Handle: r.cmdStatus},
		{Name: "stop", Description: "stop tracking", Handle: r.cmdStop},
		{Name: "list", Description: "show what you are tracking", Handle: r.cmdList},
		{Name: "help", Description: "list commands", Handle: r.cmdHelp},
	}
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	r.replyHTML(ctx, req.Chat, greeting(r.tracker.StorefrontHost()))
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	r.replyHTML(ctx, req.Chat, helpText(r.cmds))
	return nil
}

// cmdTrack restarts enrollment, replacing whatever the subscriber had.
func (r *Router) cmdTrack(ctx context.Context, req *Request) error {
	r.tracker.Begin(req.SubscriberID())
	r.replyHTML(ctx, req.Chat, "🔗 Send me the product link from "+tgui.B(r.tracker.StorefrontHost()).String()+".")
	return nil
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	rec, ok, err := r.tracker.QueryStatus(ctx, req.SubscriberID())
	if err != nil {
		req.Logger.Warn("status read failed", logx.Err(err))
	}
	if !ok {
		r.reply(ctx, req.Chat, "No tracking info yet. Send /track to start.")
		return nil
	}
	r.replyHTML(ctx, req.Chat, formatStatus(rec, r.cfg.Location))
	return nil
}

func (r *Router) cmdStop(ctx context.Context, req *Request) error {
	if !r.tracker.Unsubscribe(req.SubscriberID()) {
		r.reply(ctx, req.Chat, "Nothing to stop.")
		return nil
	}
	r.reply(ctx, req.Chat, "🛑 Stopped tracking. Send /track to start again.")
	return nil
}

func (r *Router) cmdList(ctx context.Context, req *Request) error {
	sub, ok := r.tracker.Lookup(req.SubscriberID())
	if !ok {
		r.reply(ctx, req.Chat, "You are not tracking anything. Send /track to start.")
		return nil
	}
	r.replyHTML(ctx, req.Chat, formatSubscription(sub, r.cfg.Location))
	return nil
}

// handleText interprets free text according to the enrollment state.
func (r *Router) handleText(ctx context.Context, req *Request) error {
	id := req.SubscriberID()
	state, ok := r.tracker.Session(id)
	if !ok {
		r.reply(ctx, req.Chat, "Send /track to start tracking a product.")
		return nil
	}

	var ve *tracker.ValidationError
	switch state {
	case tracker.StateAwaitingProductRef:
		err := r.tracker.AcceptProductRef(id, req.Text)
		if errors.As(err, &ve) {
			r.replyHTML(ctx, req.Chat, "❌ Invalid product link: "+tgui.Esc(ve.Reason).String()+".\nPlease send the full product URL.")
			return nil
		}
		if err != nil {
			return err
		}
		r.reply(ctx, req.Chat, "📮 Got it. Now send your 6-digit pincode.")

	case tracker.StateAwaitingPostalCode:
		if err := tracker.ValidatePostalCode(req.Text); err != nil {
			r.reply(ctx, req.Chat, "❌ Pincode must be exactly 6 digits. Try again.")
			return nil
		}
		r.reply(ctx, req.Chat, "⏳ Checking availability, this can take a moment...")
		sub, err := r.tracker.AcceptPostalCode(ctx, id, req.Text)
		if errors.As(err, &ve) {
			r.replyHTML(ctx, req.Chat, "❌ "+tgui.Esc(ve.Error()).String())
			return nil
		}
		if err != nil {
			return err
		}
		r.replyHTML(ctx, req.Chat, "✅ Now tracking "+tgui.Link(productName(sub.ProductName), sub.ProductURL).String()+
			" for pincode "+tgui.Code(sub.PostalCode).String()+
			".\nI'll message you when availability changes. Use /status anytime and /stop to end.")

	case tracker.StateActive:
		// Only commands act on an active subscription.
	}
	return nil
}
