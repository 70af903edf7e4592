package vision

import (
	"image"
	"image/color"
)

// imageToFloat32CHW resizes img to targetW×targetH (simple stretch,
// nearest-neighbour) and converts it to CHW float32, normalizing each
// channel as (pixel - mean) / std. Direct pixel access on the common
// concrete image types avoids the image.Image interface overhead on the
// per-frame hot path.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	data := make([]float32, 3*targetH*targetW)
	planeSize := targetH * targetW

	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	minX := bounds.Min.X
	minY := bounds.Min.Y

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				off := src.PixOffset(srcX, srcY)
				pix := src.Pix[off : off+3 : off+3]
				idx := y*targetW + x
				data[idx] = (float32(pix[0]) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(pix[1]) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(pix[2]) - mean[2]) / std[2]
			}
		}
	case *image.YCbCr:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				yi := src.YOffset(srcX, srcY)
				ci := src.COffset(srcX, srcY)
				r8, g8, b8 := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				idx := y*targetW + x
				data[idx] = (float32(r8) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(g8) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(b8) - mean[2]) / std[2]
			}
		}
	default:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				r, g, b, _ := img.At(srcX, srcY).RGBA()
				idx := y*targetW + x
				data[idx] = (float32(r>>8) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(g>>8) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(b>>8) - mean[2]) / std[2]
			}
		}
	}

	return data
}

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

// preprocessAlignedForEmbedding converts an already-112x112 aligned crop
// to CHW float32 normalized as (pixel - 127.5) / 127.5, matching the
// reference's `(rgb - mean) / std` ArcFace preprocessing.
func preprocessAlignedForEmbedding(aligned image.Image) []float32 {
	bounds := aligned.Bounds()
	size := bounds.Dx()
	return imageToFloat32CHW(aligned, size, bounds.Dy(), [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}
