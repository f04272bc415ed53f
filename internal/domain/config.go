package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"sort"
)

// Rect is a region in pixel coordinates of the buffer it is applied to.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) String() string {
	return fmt.Sprintf("{x:%d y:%d width:%d height:%d}", r.X, r.Y, r.Width, r.Height)
}

// Fits reports whether r lies fully inside a width x height buffer.
func (r Rect) Fits(width, height int) bool {
	if r.X < 0 || r.Y < 0 || r.Width < 0 || r.Height < 0 {
		return false
	}
	return r.X <= width-r.Width && r.Y <= height-r.Height
}

// Rectangle converts r to an image.Rectangle anchored at origin.
func (r Rect) Rectangle(origin image.Point) image.Rectangle {
	topLeft := origin.Add(image.Pt(r.X, r.Y))
	return image.Rectangle{Min: topLeft, Max: topLeft.Add(image.Pt(r.Width, r.Height))}
}

// DefaultMaxPixels caps the area of any buffer a run may allocate: the
// requested output size, the decoded input and the watermark. At four bytes
// per pixel it is 256 MiB.
const DefaultMaxPixels = 1 << 26

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Pixels is the area of s, computed without overflow.
func (s Size) Pixels() int64 {
	return int64(s.Width) * int64(s.Height)
}

// Watermark describes an image overlaid onto the primary buffer.
// Opacity is the blend factor in [0, 1]; the external scale is 0-100.
type Watermark struct {
	Content     []byte
	Position    Rect
	Opacity     float64
	UseOwnAlpha bool
}

// Config is the declarative description of one pipeline run. A nil Crop, Size
// or Watermark disables that stage. Treat a Config as read-only once parsed.
type Config struct {
	Format       Format
	Crop         *Rect
	Size         *Size
	Watermark    *Watermark
	OutputFormat Format
	Quality      *uint8
}

// Target is the format the result is encoded to.
func (c Config) Target() Format {
	if c.OutputFormat != "" {
		return c.OutputFormat
	}
	return c.Format
}

func (c Config) Validate() error {
	if c.Format == "" {
		return fmt.Errorf("%w: format is required", ErrInvalidParameter)
	}
	if !c.Format.Valid() {
		return fmt.Errorf("%w: format %q", ErrUnsupportedFormat, c.Format)
	}
	if c.OutputFormat != "" && !c.OutputFormat.Valid() {
		return fmt.Errorf("%w: output_format %q", ErrUnsupportedFormat, c.OutputFormat)
	}
	if c.Quality != nil && *c.Quality > 100 {
		return fmt.Errorf("%w: quality must be within [0, 100], got %d", ErrInvalidParameter, *c.Quality)
	}
	if c.Crop != nil {
		if err := validateRect("crop", *c.Crop); err != nil {
			return err
		}
	}
	if c.Size != nil && (c.Size.Width <= 0 || c.Size.Height <= 0) {
		return fmt.Errorf("%w: size must be positive, got %s", ErrInvalidParameter, c.Size)
	}
	if c.Size != nil && c.Size.Pixels() > DefaultMaxPixels {
		return fmt.Errorf("%w: size %s exceeds %d pixels", ErrInvalidParameter, c.Size, DefaultMaxPixels)
	}
	if wm := c.Watermark; wm != nil {
		if len(wm.Content) == 0 {
			return fmt.Errorf("%w: watermark.content is empty", ErrInvalidParameter)
		}
		if err := validateRect("watermark.position", wm.Position); err != nil {
			return err
		}
		if math.IsNaN(wm.Opacity) || wm.Opacity < 0 || wm.Opacity > 1 {
			return fmt.Errorf("%w: watermark.opacity must be within [0, 100], got %v", ErrInvalidParameter, wm.Opacity*100)
		}
	}
	return nil
}

func validateRect(field string, r Rect) error {
	if r.X < 0 || r.Y < 0 || r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("%w: %s must be non-negative, got %s", ErrInvalidParameter, field, r)
	}
	if r.Width == 0 || r.Height == 0 {
		return fmt.Errorf("%w: %s must have a non-zero area, got %s", ErrInvalidParameter, field, r)
	}
	return nil
}

var (
	configKeys    = keySet("format", "crop", "size", "watermark", "output_format", "quality")
	rectKeys      = keySet("x", "y", "width", "height")
	sizeKeys      = keySet("width", "height")
	watermarkKeys = keySet("content", "position", "opacity", "use_watermark_alpha")
)

// ParseConfig builds a Config from an untyped value such as the result of
// decoding JSON (with UseNumber) or YAML into an interface{}.
func ParseConfig(raw any) (Config, error) {
	obj, ok := asObject(raw)
	if !ok {
		return Config{}, fmt.Errorf("%w: config must be an object, got %T", ErrInvalidParameter, raw)
	}
	if err := checkKeys("config", obj, configKeys); err != nil {
		return Config{}, err
	}

	var cfg Config

	formatValue, ok := present(obj, "format")
	if !ok {
		return Config{}, fmt.Errorf("%w: format is required", ErrInvalidParameter)
	}
	format, err := parseFormatField("format", formatValue)
	if err != nil {
		return Config{}, err
	}
	cfg.Format = format

	if v, ok := present(obj, "crop"); ok {
		rect, err := parseRect("crop", v)
		if err != nil {
			return Config{}, err
		}
		cfg.Crop = &rect
	}

	if v, ok := present(obj, "size"); ok {
		size, err := parseSize(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Size = &size
	}

	if v, ok := present(obj, "watermark"); ok {
		wm, err := parseWatermark(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Watermark = &wm
	}

	if v, ok := present(obj, "output_format"); ok {
		out, err := parseFormatField("output_format", v)
		if err != nil {
			return Config{}, err
		}
		cfg.OutputFormat = out
	}

	if v, ok := present(obj, "quality"); ok {
		n, err := parseInt("quality", v)
		if err != nil {
			return Config{}, err
		}
		if n < 0 || n > 100 {
			return Config{}, fmt.Errorf("%w: quality must be within [0, 100], got %d", ErrInvalidParameter, n)
		}
		q := uint8(n)
		cfg.Quality = &q
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseConfigJSON decodes a JSON document and parses it with ParseConfig.
func ParseConfigJSON(data []byte) (Config, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("%w: invalid config JSON: %v", ErrInvalidParameter, err)
	}
	return ParseConfig(raw)
}

// MarshalJSON writes the external representation accepted by ParseConfig, so
// a Config survives a queue payload or a database column unchanged.
func (c Config) MarshalJSON() ([]byte, error) {
	out := map[string]any{"format": c.Format}
	if c.Crop != nil {
		out["crop"] = c.Crop
	}
	if c.Size != nil {
		out["size"] = c.Size
	}
	if wm := c.Watermark; wm != nil {
		out["watermark"] = map[string]any{
			"content":             wm.Content,
			"position":            []int{wm.Position.X, wm.Position.Y, wm.Position.Width, wm.Position.Height},
			"opacity":             math.Round(wm.Opacity*1e6) / 1e4,
			"use_watermark_alpha": wm.UseOwnAlpha,
		}
	}
	if c.OutputFormat != "" {
		out["output_format"] = c.OutputFormat
	}
	if c.Quality != nil {
		out["quality"] = *c.Quality
	}
	return json.Marshal(out)
}

func (c *Config) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	parsed, err := ParseConfigJSON(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func parseFormatField(field string, v any) (Format, error) {
	tag, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParameter, field, v)
	}
	format, err := ParseFormat(tag)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return format, nil
}

func parseRect(field string, v any) (Rect, error) {
	obj, ok := asObject(v)
	if !ok {
		return Rect{}, fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidParameter, field, v)
	}
	if err := checkKeys(field, obj, rectKeys); err != nil {
		return Rect{}, err
	}

	var (
		r   Rect
		err error
	)
	if r.X, err = optionalNonNegative(obj, field, "x"); err != nil {
		return Rect{}, err
	}
	if r.Y, err = optionalNonNegative(obj, field, "y"); err != nil {
		return Rect{}, err
	}
	if r.Width, err = requiredNonNegative(obj, field, "width"); err != nil {
		return Rect{}, err
	}
	if r.Height, err = requiredNonNegative(obj, field, "height"); err != nil {
		return Rect{}, err
	}
	return r, nil
}

func parseSize(v any) (Size, error) {
	obj, ok := asObject(v)
	if !ok {
		return Size{}, fmt.Errorf("%w: size must be an object, got %T", ErrInvalidParameter, v)
	}
	if err := checkKeys("size", obj, sizeKeys); err != nil {
		return Size{}, err
	}

	width, err := requiredNonNegative(obj, "size", "width")
	if err != nil {
		return Size{}, err
	}
	height, err := requiredNonNegative(obj, "size", "height")
	if err != nil {
		return Size{}, err
	}
	return Size{Width: width, Height: height}, nil
}

func parseWatermark(v any) (Watermark, error) {
	obj, ok := asObject(v)
	if !ok {
		return Watermark{}, fmt.Errorf("%w: watermark must be an object, got %T", ErrInvalidParameter, v)
	}
	if err := checkKeys("watermark", obj, watermarkKeys); err != nil {
		return Watermark{}, err
	}

	wm := Watermark{Opacity: 1}

	content, ok := present(obj, "content")
	if !ok {
		return Watermark{}, fmt.Errorf("%w: watermark.content is required", ErrInvalidParameter)
	}
	switch c := content.(type) {
	case []byte:
		wm.Content = c
	case string:
		decoded, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			return Watermark{}, fmt.Errorf("%w: watermark.content is not valid base64: %v", ErrInvalidParameter, err)
		}
		wm.Content = decoded
	default:
		return Watermark{}, fmt.Errorf("%w: watermark.content must be bytes or a base64 string, got %T", ErrInvalidParameter, content)
	}

	position, ok := present(obj, "position")
	if !ok {
		return Watermark{}, fmt.Errorf("%w: watermark.position is required", ErrInvalidParameter)
	}
	coords, err := parsePosition(position)
	if err != nil {
		return Watermark{}, err
	}
	wm.Position = Rect{X: coords[0], Y: coords[1], Width: coords[2], Height: coords[3]}

	if raw, ok := present(obj, "opacity"); ok {
		opacity, ok := toFloat(raw)
		if !ok {
			return Watermark{}, fmt.Errorf("%w: watermark.opacity must be a number, got %T", ErrInvalidParameter, raw)
		}
		if math.IsNaN(opacity) || opacity < 0 || opacity > 100 {
			return Watermark{}, fmt.Errorf("%w: watermark.opacity must be within [0, 100], got %v", ErrInvalidParameter, opacity)
		}
		wm.Opacity = opacity / 100
	}

	if raw, ok := present(obj, "use_watermark_alpha"); ok {
		useAlpha, ok := raw.(bool)
		if !ok {
			return Watermark{}, fmt.Errorf("%w: watermark.use_watermark_alpha must be a boolean, got %T", ErrInvalidParameter, raw)
		}
		wm.UseOwnAlpha = useAlpha
	}

	return wm, nil
}

func parsePosition(v any) ([4]int, error) {
	var items []any
	switch p := v.(type) {
	case []any:
		items = p
	case []int:
		for _, n := range p {
			items = append(items, n)
		}
	default:
		return [4]int{}, fmt.Errorf("%w: watermark.position must be an array of 4 numbers, got %T", ErrInvalidParameter, v)
	}
	if len(items) != 4 {
		return [4]int{}, fmt.Errorf("%w: watermark.position must be an array of 4 numbers, got %d", ErrInvalidParameter, len(items))
	}

	var out [4]int
	for i, item := range items {
		n, err := parseInt(fmt.Sprintf("watermark.position[%d]", i), item)
		if err != nil {
			return [4]int{}, err
		}
		if n < 0 {
			return [4]int{}, fmt.Errorf("%w: watermark.position[%d] must be non-negative, got %d", ErrInvalidParameter, i, n)
		}
		out[i] = n
	}
	return out, nil
}

func optionalNonNegative(obj map[string]any, parent, key string) (int, error) {
	if _, ok := present(obj, key); !ok {
		return 0, nil
	}
	return requiredNonNegative(obj, parent, key)
}

func requiredNonNegative(obj map[string]any, parent, key string) (int, error) {
	field := parent + "." + key
	v, ok := present(obj, key)
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, field)
	}
	n, err := parseInt(field, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must be non-negative, got %d", ErrInvalidParameter, field, n)
	}
	return n, nil
}

func parseInt(field string, v any) (int, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidParameter, field, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameter, field, f)
	}
	if math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s is out of range, got %v", ErrInvalidParameter, field, f)
	}
	return int(f), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case map[any]any:
		out := make(map[string]any, len(obj))
		for k, val := range obj {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// present treats an explicit null the same as an absent key.
func present(obj map[string]any, key string) (any, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func keySet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func checkKeys(field string, obj map[string]any, allowed map[string]struct{}) error {
	var unknown []string
	for k := range obj {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s has unknown fields %v", ErrInvalidParameter, field, unknown)
}
