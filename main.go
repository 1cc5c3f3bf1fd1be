package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/segmenter/segment/onnx"
	"github.com/chaos-io/segmenter/util"
)

func main() {
	var (
		input      = flag.String("input", "", "输入图片，本地路径或 http(s) 地址")
		background = flag.String("background", "", "可选的新背景图，本地路径或 http(s) 地址")
		modelName  = flag.String("model", "u2net", "模型：u2net 或 deeplabv3")
		modelDir   = flag.String("model-dir", "./models", "模型文件目录")
		outputDir  = flag.String("output", "./output", "输出目录")
	)
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	model, err := parseModel(*modelName)
	if err != nil {
		log.Fatal(err)
	}

	img, err := loadImage(*input)
	if err != nil {
		log.Fatal("Failed to load image: ", err)
	}

	defer util.Trace("segment " + filepath.Base(*input))()

	ctx := context.Background()
	seg, err := onnx.NewSegmenter(ctx, model, *modelDir)
	if err != nil {
		log.Fatal("Failed to load model: ", err)
	}
	defer func() {
		_ = seg.Close()
	}()

	if err := os.MkdirAll(*outputDir, os.ModePerm); err != nil {
		log.Fatal("Failed to create output dir: ", err)
	}

	id := ksuid.New().String()

	mask, err := seg.Segment(ctx, img)
	if err != nil {
		log.Fatal("Failed to segment image: ", err)
	}
	maskPath := filepath.Join(*outputDir, id+"_mask.png")
	if err := util.SavePNG(maskPath, mask); err != nil {
		log.Fatal("Failed to save mask: ", err)
	}

	cutout, err := seg.RemoveBackground(ctx, img)
	if err != nil {
		log.Fatal("Failed to remove background: ", err)
	}
	cutoutPath := filepath.Join(*outputDir, id+"_cutout.png")
	if err := imaging.Save(cutout, cutoutPath); err != nil {
		log.Fatal("Failed to save cutout: ", err)
	}

	log.Println("Done! Mask:", maskPath, "Cutout:", cutoutPath)

	if *background == "" {
		return
	}

	bg, err := loadImage(*background)
	if err != nil {
		log.Fatal("Failed to load background: ", err)
	}
	composite, err := seg.ReplaceBackground(ctx, img, bg)
	if err != nil {
		log.Fatal("Failed to replace background: ", err)
	}
	compositePath := filepath.Join(*outputDir, id+"_composite.png")
	if err := imaging.Save(composite, compositePath); err != nil {
		log.Fatal("Failed to save composite: ", err)
	}
	log.Println("Composite:", compositePath)
}

func parseModel(name string) (onnx.Model, error) {
	switch name {
	case "u2net":
		return onnx.U2Net, nil
	case "deeplabv3":
		return onnx.DeepLabV3, nil
	default:
		return 0, fmt.Errorf("unknown model %q, want u2net or deeplabv3", name)
	}
}

func loadImage(pathOrURL string) (image.Image, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return util.DownloadImage(pathOrURL)
	}
	return util.OpenImage(pathOrURL)
}
