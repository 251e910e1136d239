package compositor

import (
	"context"

	"github.com/wudi/flyerkit/clipmask"
	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/geometry"
	"github.com/wudi/flyerkit/observability"
	"github.com/wudi/flyerkit/pdfdoc"
	"github.com/wudi/flyerkit/shapes"
)

func (ss *session) image(ctx context.Context, page *pdfdoc.Page, rect coords.Rect, o *draft.Image) (string, error) {
	img, err := ss.images.Resolve(ctx, o.Sources)
	if err != nil {
		if ctx.Err() != nil {
			return observability.OutcomeFailed, err
		}
		clipmask.Placeholder(page, rect, 0)
		return observability.OutcomePlaceholder, err
	}
	ref, err := ss.images.XObject(ss.doc, img)
	if err != nil {
		clipmask.Placeholder(page, rect, 0)
		return observability.OutcomePlaceholder, diag.Wrap(diag.ErrResourceUnresolved, err)
	}
	shapes.Place(page, page.UseXObject(ref), rect, o.Style.Alpha())
	return observability.OutcomeDrawn, nil
}

func (ss *session) shape(page *pdfdoc.Page, gp geometry.Page, rect coords.Rect, o *draft.Shape) (string, error) {
	err := ss.shapes.Draw(page, shapes.Spec{
		Kind:        o.Shape,
		Rect:        rect,
		Radius:      gp.Length(o.Radius),
		Fill:        o.Style.Fill,
		Gradient:    o.Gradient,
		Stroke:      o.Style.Stroke,
		StrokeWidth: gp.StrokeWidth(o.Style.StrokeWidth),
		Opacity:     o.Style.Alpha(),
	})
	if err != nil {
		return observability.OutcomeFailed, err
	}
	return observability.OutcomeDrawn, nil
}

func (ss *session) clipMask(ctx context.Context, page *pdfdoc.Page, gp geometry.Page, rect coords.Rect, o *draft.ClipMask) (string, error) {
	radius := 0.0
	if o.Shape == draft.ShapeRoundRect {
		radius = gp.Length(o.Radius)
	}
	img, err := ss.images.Resolve(ctx, o.Sources)
	if err != nil {
		if ctx.Err() != nil {
			return observability.OutcomeFailed, err
		}
		clipmask.Placeholder(page, rect, radius)
		return observability.OutcomePlaceholder, err
	}
	sx, sy := gp.Scale()
	err = ss.clips.Draw(page, img.Image, clipmask.Spec{
		Rect:        rect,
		Radius:      radius,
		Scale:       o.Scale,
		OffsetX:     o.OffsetX * sx,
		OffsetY:     o.OffsetY * sy,
		Stroke:      o.Style.Stroke,
		StrokeWidth: gp.StrokeWidth(o.Style.StrokeWidth),
		Opacity:     o.Style.Alpha(),
	})
	if err != nil {
		return observability.OutcomeFailed, err
	}
	return observability.OutcomeDrawn, nil
}
