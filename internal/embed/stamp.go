// Package embed stamps a captured signature image into a PDF at the
// placements chosen in the signing session. The source bytes are never
// modified in place; Stamp returns a new artifact generation.
package embed

import (
	"bytes"
	"fmt"
	"image"
	"strconv"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/pagetree"
	"seehuhn.de/go/pdf/pdfcopy"

	"signoff/api/internal/geom"
)

// letterWidth/letterHeight are the fallback page size when a page carries no
// MediaBox at all.
const (
	letterWidth  = 612.0
	letterHeight = 792.0
)

// PageCount reports the number of pages in the PDF.
func PageCount(src []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return 0, fmt.Errorf("embed: read pdf: %w", err)
	}
	refs, err := pagetree.FindPages(r)
	if err != nil {
		return 0, fmt.Errorf("embed: walk page tree: %w", err)
	}
	return len(refs), nil
}

// PageSizes returns each page's MediaBox extent in points, in page order.
func PageSizes(src []byte) ([]geom.PageSize, error) {
	r, err := pdf.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, fmt.Errorf("embed: read pdf: %w", err)
	}
	refs, err := pagetree.FindPages(r)
	if err != nil {
		return nil, fmt.Errorf("embed: walk page tree: %w", err)
	}

	sizes := make([]geom.PageSize, len(refs))
	for i := range refs {
		_, merged, err := pagetree.GetPage(r, i)
		if err != nil {
			return nil, fmt.Errorf("embed: page %d: %w", i+1, err)
		}
		size, _, err := mediaBox(r, merged)
		if err != nil {
			return nil, fmt.Errorf("embed: page %d: %w", i+1, err)
		}
		sizes[i] = size
	}
	return sizes, nil
}

// Stamp draws img into every box, each on its own page, and returns the new
// PDF bytes. Box coordinates are normalized top-left fractions; the stamp
// lands at the equivalent bottom-left PDF position. The original content is
// wrapped in a graphics-state guard so a page that leaves its state dirty
// cannot skew the stamp.
func Stamp(src []byte, img image.Image, boxes []geom.Box) ([]byte, error) {
	if len(boxes) == 0 {
		return nil, fmt.Errorf("embed: no signature boxes to stamp")
	}
	if img == nil {
		return nil, fmt.Errorf("embed: no signature image")
	}

	r, err := pdf.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, fmt.Errorf("embed: read pdf: %w", err)
	}
	pageRefs, err := pagetree.FindPages(r)
	if err != nil {
		return nil, fmt.Errorf("embed: walk page tree: %w", err)
	}

	byPage := map[int][]geom.Box{}
	for _, box := range boxes {
		if err := box.Validate(len(pageRefs)); err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		byPage[box.Page] = append(byPage[box.Page], box)
	}

	// The stamped file is rebuilt page by page; untouched pages are carried
	// over through the copier with their references translated.
	version := r.GetMeta().Version
	if version < pdf.V1_2 {
		version = pdf.V1_2
	}
	var out bytes.Buffer
	w, err := pdf.NewWriter(&out, version, nil)
	if err != nil {
		return nil, fmt.Errorf("embed: open writer: %w", err)
	}
	copier := pdfcopy.NewCopier(w, r)
	tree := pagetree.NewWriter(w)

	imgRef, err := writeImageXObject(w, img)
	if err != nil {
		return nil, err
	}

	for i := range pageRefs {
		pageNo := i + 1
		_, merged, err := pagetree.GetPage(r, i)
		if err != nil {
			return nil, fmt.Errorf("embed: page %d: %w", pageNo, err)
		}

		var page pdf.Dict
		if pageBoxes := byPage[pageNo]; len(pageBoxes) > 0 {
			page, err = stampedPage(r, w, copier, merged, pageNo, imgRef, pageBoxes)
		} else {
			page, err = copier.CopyDict(merged)
		}
		if err != nil {
			return nil, err
		}
		if err := tree.AppendPage(page); err != nil {
			return nil, fmt.Errorf("embed: page %d: %w", pageNo, err)
		}
	}

	rootRef, err := tree.Close()
	if err != nil {
		return nil, fmt.Errorf("embed: close page tree: %w", err)
	}
	w.GetMeta().Catalog.Pages = rootRef
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("embed: write pdf: %w", err)
	}
	return out.Bytes(), nil
}

// stampedPage rebuilds one page dict with the original content wrapped in
// q/Q guard streams and one positioning stream per box appended.
func stampedPage(r pdf.Getter, w *pdf.Writer, copier *pdfcopy.Copier, merged pdf.Dict, pageNo int, imgRef pdf.Reference, boxes []geom.Box) (pdf.Dict, error) {
	size, origin, err := mediaBox(r, merged)
	if err != nil {
		return nil, fmt.Errorf("embed: page %d: %w", pageNo, err)
	}

	resources, name, err := resourcesWithImage(r, copier, merged, imgRef)
	if err != nil {
		return nil, fmt.Errorf("embed: page %d resources: %w", pageNo, err)
	}

	var ops bytes.Buffer
	ops.WriteString("Q\n")
	for _, box := range boxes {
		rect := geom.ToPage(size, box)
		ops.WriteString("q\n")
		ops.WriteString(num(rect.Width) + " 0 0 " + num(rect.Height) + " " +
			num(origin.X+rect.X) + " " + num(origin.Y+rect.Y) + " cm\n")
		ops.WriteString("/" + string(name) + " Do\nQ\n")
	}

	head, err := writeContentStream(w, []byte("q\n"))
	if err != nil {
		return nil, err
	}
	tail, err := writeContentStream(w, ops.Bytes())
	if err != nil {
		return nil, err
	}

	srcContents, err := contentRefs(r, merged["Contents"])
	if err != nil {
		return nil, fmt.Errorf("embed: page %d contents: %w", pageNo, err)
	}
	contents := pdf.Array{head}
	for _, ref := range srcContents {
		copied, err := copier.CopyReference(ref)
		if err != nil {
			return nil, fmt.Errorf("embed: page %d contents: %w", pageNo, err)
		}
		contents = append(contents, copied)
	}
	contents = append(contents, tail)

	rest := make(pdf.Dict, len(merged))
	for key, val := range merged {
		if key == "Contents" || key == "Resources" {
			continue
		}
		rest[key] = val
	}
	page, err := copier.CopyDict(rest)
	if err != nil {
		return nil, fmt.Errorf("embed: page %d: %w", pageNo, err)
	}
	page["Contents"] = contents
	page["Resources"] = resources
	return page, nil
}

// contentRefs flattens the page's Contents entry into the stream references
// to keep in front of the stamp ops, in order.
func contentRefs(r pdf.Getter, contents pdf.Object) ([]pdf.Reference, error) {
	if contents == nil {
		return nil, nil
	}

	elems := func(arr pdf.Array) ([]pdf.Reference, error) {
		refs := make([]pdf.Reference, 0, len(arr))
		for i, elem := range arr {
			ref, ok := elem.(pdf.Reference)
			if !ok {
				return nil, fmt.Errorf("Contents[%d] is %T, not a reference", i, elem)
			}
			refs = append(refs, ref)
		}
		return refs, nil
	}

	if arr, ok := contents.(pdf.Array); ok {
		return elems(arr)
	}
	ref, ok := contents.(pdf.Reference)
	if !ok {
		return nil, fmt.Errorf("unexpected Contents type %T", contents)
	}
	resolved, err := pdf.Resolve(r, ref)
	if err != nil {
		return nil, err
	}
	if arr, ok := resolved.(pdf.Array); ok {
		return elems(arr)
	}
	return []pdf.Reference{ref}, nil
}

// resourcesWithImage copies the page's merged resource dict into the output
// file and registers the signature XObject under a name that collides with
// nothing already there.
func resourcesWithImage(r pdf.Getter, copier *pdfcopy.Copier, merged pdf.Dict, imgRef pdf.Reference) (pdf.Dict, pdf.Name, error) {
	src, err := pdf.GetDict(r, merged["Resources"])
	if err != nil {
		return nil, "", err
	}
	srcXObjects, err := pdf.GetDict(r, src["XObject"])
	if err != nil {
		return nil, "", err
	}

	var name pdf.Name
	for i := 0; ; i++ {
		name = pdf.Name("Sig" + strconv.Itoa(i))
		if _, taken := srcXObjects[name]; !taken {
			break
		}
	}

	rest := make(pdf.Dict, len(src))
	for key, val := range src {
		if key == "XObject" {
			continue
		}
		rest[key] = val
	}
	resources, err := copier.CopyDict(rest)
	if err != nil {
		return nil, "", err
	}
	xobjects, err := copier.CopyDict(srcXObjects)
	if err != nil {
		return nil, "", err
	}
	xobjects[name] = imgRef
	resources["XObject"] = xobjects
	return resources, name, nil
}

// mediaBox resolves the page's MediaBox into a size and a lower-left origin.
func mediaBox(r pdf.Getter, merged pdf.Dict) (geom.PageSize, geom.Rect, error) {
	arr, err := pdf.GetArray(r, merged["MediaBox"])
	if err != nil {
		return geom.PageSize{}, geom.Rect{}, err
	}
	if len(arr) != 4 {
		return geom.PageSize{Width: letterWidth, Height: letterHeight}, geom.Rect{}, nil
	}

	var v [4]float64
	for i, obj := range arr {
		v[i], err = number(r, obj)
		if err != nil {
			return geom.PageSize{}, geom.Rect{}, fmt.Errorf("MediaBox[%d]: %w", i, err)
		}
	}
	size := geom.PageSize{Width: v[2] - v[0], Height: v[3] - v[1]}
	if size.Width <= 0 || size.Height <= 0 {
		return geom.PageSize{}, geom.Rect{}, fmt.Errorf("MediaBox has no area")
	}
	return size, geom.Rect{X: v[0], Y: v[1]}, nil
}

func number(r pdf.Getter, obj pdf.Object) (float64, error) {
	resolved, err := pdf.Resolve(r, obj)
	if err != nil {
		return 0, err
	}
	switch n := resolved.(type) {
	case pdf.Integer:
		return float64(n), nil
	case pdf.Real:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", resolved)
}

// writeImageXObject embeds img as an RGB image XObject with an SMask carrying
// the alpha channel, so the stamp keeps its transparent background.
func writeImageXObject(w *pdf.Writer, img image.Image) (pdf.Reference, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("embed: signature image has no pixels")
	}

	imgRef := w.Alloc()
	maskRef := w.Alloc()

	stream, err := w.OpenStream(imgRef, pdf.Dict{
		"Type":             pdf.Name("XObject"),
		"Subtype":          pdf.Name("Image"),
		"Width":            pdf.Integer(width),
		"Height":           pdf.Integer(height),
		"ColorSpace":       pdf.Name("DeviceRGB"),
		"BitsPerComponent": pdf.Integer(8),
		"SMask":            maskRef,
	}, pdf.FilterFlate{
		"Predictor": pdf.Integer(15),
		"Colors":    pdf.Integer(3),
		"Columns":   pdf.Integer(width),
	})
	if err != nil {
		return 0, fmt.Errorf("embed: open image stream: %w", err)
	}

	alpha := make([]byte, 0, width*height)
	row := make([]byte, 0, width*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row = row[:0]
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			row = append(row, byte(r>>8), byte(g>>8), byte(b>>8))
			alpha = append(alpha, byte(a>>8))
		}
		if _, err := stream.Write(row); err != nil {
			return 0, fmt.Errorf("embed: write image row: %w", err)
		}
	}
	if err := stream.Close(); err != nil {
		return 0, fmt.Errorf("embed: close image stream: %w", err)
	}

	stream, err = w.OpenStream(maskRef, pdf.Dict{
		"Type":             pdf.Name("XObject"),
		"Subtype":          pdf.Name("Image"),
		"Width":            pdf.Integer(width),
		"Height":           pdf.Integer(height),
		"ColorSpace":       pdf.Name("DeviceGray"),
		"BitsPerComponent": pdf.Integer(8),
	}, pdf.FilterFlate{
		"Predictor": pdf.Integer(15),
		"Columns":   pdf.Integer(width),
	})
	if err != nil {
		return 0, fmt.Errorf("embed: open mask stream: %w", err)
	}
	if _, err := stream.Write(alpha); err != nil {
		return 0, fmt.Errorf("embed: write mask: %w", err)
	}
	if err := stream.Close(); err != nil {
		return 0, fmt.Errorf("embed: close mask stream: %w", err)
	}

	return imgRef, nil
}

func writeContentStream(w *pdf.Writer, ops []byte) (pdf.Reference, error) {
	ref := w.Alloc()
	stream, err := w.OpenStream(ref, pdf.Dict{})
	if err != nil {
		return 0, fmt.Errorf("embed: open content stream: %w", err)
	}
	if _, err := stream.Write(ops); err != nil {
		return 0, fmt.Errorf("embed: write content stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return 0, fmt.Errorf("embed: close content stream: %w", err)
	}
	return ref, nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
