package cdasset

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	TEXTURE_FORMAT_R    uint16 = 1
	TEXTURE_FORMAT_RGB  uint16 = 3
	TEXTURE_FORMAT_RGBA uint16 = 4
)

const (
	TEXTURE_COMPRESSED_NONE uint16 = 0
	TEXTURE_COMPRESSED_ZLIB uint16 = 1
)

// maxTextureSide bounds decoded dimensions read from an archive.
const maxTextureSide = 1 << 15

var ErrUnknownImageFormat = errors.New("unknown image format")

// Texture references an image file and optionally embeds its pixels.
type Texture struct {
	ID         TextureID `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Path       string    `json:"path" yaml:"path"`
	Size       [2]uint32 `json:"size" yaml:"size"`
	Format     uint16    `json:"format" yaml:"format"`
	Compressed uint16    `json:"compressed" yaml:"compressed"`
	Repeated   bool      `json:"repeated" yaml:"repeated"`
	Data       []byte    `json:"-" yaml:"-"`
}

func (t *Texture) IsEmbedded() bool { return len(t.Data) > 0 }

func CompressImage(buf []byte) ([]byte, error) {
	var bf bytes.Buffer
	w := zlib.NewWriter(&bf)
	if _, err := w.Write(buf); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return bf.Bytes(), nil
}

func DecompressImage(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// LoadTexture rebuilds an image from embedded pixel data.
func LoadTexture(tex *Texture, flipY bool) (image.Image, error) {
	if !tex.IsEmbedded() {
		return nil, fmt.Errorf("texture %q has no embedded data", tex.Name)
	}
	w := int(tex.Size[0])
	h := int(tex.Size[1])
	var sz int
	switch tex.Format {
	case TEXTURE_FORMAT_RGB:
		sz = 3
	case TEXTURE_FORMAT_RGBA:
		sz = 4
	case TEXTURE_FORMAT_R:
		sz = 1
	default:
		return nil, fmt.Errorf("texture %q format %d: %w", tex.Name, tex.Format, ErrUnknownImageFormat)
	}
	data := tex.Data
	if tex.Compressed == TEXTURE_COMPRESSED_ZLIB {
		var err error
		if data, err = DecompressImage(data); err != nil {
			return nil, fmt.Errorf("texture %q: %w", tex.Name, err)
		}
	}
	if len(data) < w*h*sz {
		return nil, fmt.Errorf("texture %q holds %d bytes, want %d", tex.Name, len(data), w*h*sz)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			p := i*w*sz + j*sz
			var c color.NRGBA
			switch sz {
			case 4:
				c = color.NRGBA{R: data[p], G: data[p+1], B: data[p+2], A: data[p+3]}
			case 3:
				c = color.NRGBA{R: data[p], G: data[p+1], B: data[p+2], A: 255}
			case 1:
				c = color.NRGBA{R: data[p], G: data[p], B: data[p], A: 255}
			}
			y := i
			if flipY {
				y = h - i - 1
			}
			img.SetNRGBA(j, y, c)
		}
	}
	return img, nil
}

// DecodeImage picks a decoder from the file extension.
func DecodeImage(rd io.Reader, name string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpeg", ".jpg":
		return jpeg.Decode(rd)
	case ".png":
		return png.Decode(rd)
	case ".gif":
		return gif.Decode(rd)
	case ".bmp":
		return bmp.Decode(rd)
	case ".tif", ".tiff":
		return tiff.Decode(rd)
	case ".tga":
		return tga.Decode(rd)
	case ".webp":
		return webp.Decode(rd)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownImageFormat)
	}
}

// CreateTexture decodes an image file and embeds it as zlib compressed RGBA.
func CreateTexture(path string, repeat bool) (*Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := DecodeImage(f, path)
	if err != nil {
		return nil, err
	}
	tex, err := CreateTextureFromImage(img, path, repeat)
	if err != nil {
		return nil, err
	}
	tex.Path = path
	return tex, nil
}

func CreateTextureFromImage(img image.Image, name string, repeat bool) (*Texture, error) {
	bd := img.Bounds()
	buf := make([]byte, 0, bd.Dx()*bd.Dy()*4)
	for y := bd.Min.Y; y < bd.Max.Y; y++ {
		for x := bd.Min.X; x < bd.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			buf = append(buf, c.R, c.G, c.B, c.A)
		}
	}
	data, err := CompressImage(buf)
	if err != nil {
		return nil, err
	}
	return &Texture{
		Name:       filepath.Base(name),
		Size:       [2]uint32{uint32(bd.Dx()), uint32(bd.Dy())},
		Format:     TEXTURE_FORMAT_RGBA,
		Compressed: TEXTURE_COMPRESSED_ZLIB,
		Data:       data,
		Repeated:   repeat,
	}, nil
}

// EncodeTexture writes embedded pixels as "png" or "webp".
func EncodeTexture(wt io.Writer, tex *Texture, format string) error {
	img, err := LoadTexture(tex, false)
	if err != nil {
		return err
	}
	switch format {
	case "png":
		return png.Encode(wt, img)
	case "webp":
		return nativewebp.Encode(wt, img, nil)
	default:
		return fmt.Errorf("encode %s: %w", format, ErrUnknownImageFormat)
	}
}

func TextureMarshal(oa *OutputArchive, tex *Texture) error {
	if err := oa.WriteUint32(uint32(tex.ID)); err != nil {
		return err
	}
	if err := oa.WriteString(tex.Name); err != nil {
		return err
	}
	if err := oa.WriteString(tex.Path); err != nil {
		return err
	}
	if err := oa.Write(&tex.Size); err != nil {
		return err
	}
	if err := oa.WriteUint16(tex.Format); err != nil {
		return err
	}
	if err := oa.WriteUint16(tex.Compressed); err != nil {
		return err
	}
	if err := oa.WriteBool(tex.Repeated); err != nil {
		return err
	}
	return oa.WriteBytes(tex.Data)
}

func TextureUnMarshal(ia *InputArchive) (*Texture, error) {
	tex := &Texture{}
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	tex.ID = TextureID(id)
	if tex.Name, err = ia.ReadString(); err != nil {
		return nil, err
	}
	if tex.Path, err = ia.ReadString(); err != nil {
		return nil, err
	}
	if err := ia.Read(&tex.Size); err != nil {
		return nil, err
	}
	if tex.Size[0] > maxTextureSide || tex.Size[1] > maxTextureSide {
		return nil, fmt.Errorf("texture %q size %v: %w", tex.Name, tex.Size, ErrCorruptArchive)
	}
	if tex.Format, err = ia.ReadUint16(); err != nil {
		return nil, err
	}
	if tex.Compressed, err = ia.ReadUint16(); err != nil {
		return nil, err
	}
	if tex.Repeated, err = ia.ReadBool(); err != nil {
		return nil, err
	}
	if tex.Data, err = ia.ReadBytes(); err != nil {
		return nil, err
	}
	if len(tex.Data) == 0 {
		tex.Data = nil
	}
	return tex, nil
}
