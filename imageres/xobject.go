package imageres

import (
	"image"
	"image/draw"

	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/pdfdoc"
)

// XObject embeds img once per render and returns its reference. JPEGs in
// gray or YCbCr pass through as DCTDecode; everything else is re-encoded.
func (r *Resolver) XObject(doc *pdfdoc.Document, img *Raster) (raw.ObjectRef, error) {
	r.mu.Lock()
	ref, ok := r.refs[img.Source]
	r.mu.Unlock()
	if ok {
		return ref, nil
	}
	var err error
	if cs, pass := jpegColorSpace(img); pass {
		ref = embedJPEG(doc, img, cs)
	} else {
		ref, err = EmbedImage(doc, img.Image)
		if err != nil {
			return raw.ObjectRef{}, err
		}
	}
	r.mu.Lock()
	r.refs[img.Source] = ref
	r.mu.Unlock()
	return ref, nil
}

func jpegColorSpace(img *Raster) (string, bool) {
	if img.Format != FormatJPEG {
		return "", false
	}
	switch img.Image.(type) {
	case *image.YCbCr:
		return "DeviceRGB", true
	case *image.Gray:
		return "DeviceGray", true
	}
	return "", false
}

func embedJPEG(doc *pdfdoc.Document, img *Raster, colorSpace string) raw.ObjectRef {
	b := img.Image.Bounds()
	d := imageDict(b.Dx(), b.Dy(), colorSpace)
	d.Put("Filter", raw.NameLiteral("DCTDecode"))
	return doc.Add(raw.NewStream(d, img.Data))
}

// EmbedImage writes src as a Flate RGB image XObject. Transparency becomes
// a gray soft mask.
func EmbedImage(doc *pdfdoc.Document, src image.Image) (raw.ObjectRef, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// straight alpha so the color samples are usable as-is
	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) || nrgba.Stride != 4*w {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)
	}

	pixels := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	hasAlpha := false
	for i := 0; i < w*h; i++ {
		offset := i * 4
		pixels = append(pixels, nrgba.Pix[offset], nrgba.Pix[offset+1], nrgba.Pix[offset+2])
		a := nrgba.Pix[offset+3]
		alpha = append(alpha, a)
		if a < 255 {
			hasAlpha = true
		}
	}

	d := imageDict(w, h, "DeviceRGB")
	if hasAlpha {
		maskRef, err := doc.AddStream(imageDict(w, h, "DeviceGray"), alpha)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		d.Put("SMask", raw.RefObj{R: maskRef})
	}
	return doc.AddStream(d, pixels)
}

func imageDict(w, h int, colorSpace string) *raw.DictObj {
	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("XObject"))
	d.Put("Subtype", raw.NameLiteral("Image"))
	d.Put("Width", raw.NumberInt(int64(w)))
	d.Put("Height", raw.NumberInt(int64(h)))
	d.Put("ColorSpace", raw.NameLiteral(colorSpace))
	d.Put("BitsPerComponent", raw.NumberInt(8))
	return d
}
