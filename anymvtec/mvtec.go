// Package anymvtec loads image categories stored in the
// MVTec anomaly detection layout:
//
//     <root>/<category>/train/good/*.png
//     <root>/<category>/test/<defect>/*.png
//     <root>/<category>/ground_truth/<defect>/<name>_mask.png
//
// Test images in the "good" directory are normal, and
// every other defect directory holds anomalous images.
package anymvtec

import (
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anysde/anyconv"
	"github.com/unixpickle/anysde/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"golang.org/x/exp/slices"
	"golang.org/x/image/draw"
)

// GoodDir is the directory name for normal images.
const GoodDir = "good"

// AllCategories is the category selector that expands to
// every category.
const AllCategories = "all"

// CategoryNames lists the MVTec AD categories.
var CategoryNames = []string{
	"bottle", "cable", "capsule", "carpet", "grid", "hazelnut", "leather",
	"metal_nut", "pill", "screw", "tile", "toothbrush", "transistor", "wood",
	"zipper",
}

// ExpandCategories turns a category selector into a list
// of category names.
func ExpandCategories(selector string) ([]string, error) {
	if selector == AllCategories {
		return append([]string{}, CategoryNames...), nil
	}
	if !slices.Contains(CategoryNames, selector) {
		return nil, fmt.Errorf("expand categories: unknown category: %s", selector)
	}
	return []string{selector}, nil
}

// An Entry locates one image on disk.
type Entry struct {
	Path      string
	Anomalous bool

	// MaskPath is empty for normal images.
	MaskPath string
}

// A SampleList lazily loads images (and masks) from disk.
//
// Images are resampled to ImageSize x ImageSize with
// bilinear interpolation.
// Masks are resampled to MaskSize x MaskSize with nearest
// neighbor interpolation and binarized; normal images get
// an all-zero mask.
type SampleList struct {
	Creator   anyvec.Creator
	ImageSize int
	MaskSize  int
	Entries   []Entry
}

// LoadTrain lists the training images of a category.
func LoadTrain(c anyvec.Creator, root, category string, imageSize int) (*SampleList, error) {
	paths, err := listImages(filepath.Join(root, category, "train", GoodDir))
	if err != nil {
		return nil, essentials.AddCtx("load training set", err)
	}
	res := &SampleList{Creator: c, ImageSize: imageSize}
	for _, p := range paths {
		res.Entries = append(res.Entries, Entry{Path: p})
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("load training set: no images for category %s", category)
	}
	return res, nil
}

// LoadTest lists the test images of a category, along
// with the masks of the anomalous ones.
func LoadTest(c anyvec.Creator, root, category string, imageSize,
	maskSize int) (*SampleList, error) {
	testDir := filepath.Join(root, category, "test")
	defects, err := listDirs(testDir)
	if err != nil {
		return nil, essentials.AddCtx("load test set", err)
	}
	res := &SampleList{Creator: c, ImageSize: imageSize, MaskSize: maskSize}
	for _, defect := range defects {
		paths, err := listImages(filepath.Join(testDir, defect))
		if err != nil {
			return nil, essentials.AddCtx("load test set", err)
		}
		for _, p := range paths {
			entry := Entry{Path: p}
			if defect != GoodDir {
				entry.Anomalous = true
				name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
				entry.MaskPath = filepath.Join(root, category, "ground_truth", defect,
					name+"_mask.png")
			}
			res.Entries = append(res.Entries, entry)
		}
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("load test set: no images for category %s", category)
	}
	return res, nil
}

// Len returns the number of samples.
func (s *SampleList) Len() int {
	return len(s.Entries)
}

// Swap swaps two samples.
func (s *SampleList) Swap(i, j int) {
	s.Entries[i], s.Entries[j] = s.Entries[j], s.Entries[i]
}

// Slice copies a sub-slice of the list.
func (s *SampleList) Slice(i, j int) anysgd.SampleList {
	res := *s
	res.Entries = append([]Entry{}, s.Entries[i:j]...)
	return &res
}

// GetSample loads the sample at the index.
func (s *SampleList) GetSample(idx int) (*anysde.Sample, error) {
	entry := s.Entries[idx]
	img, err := readImage(entry.Path, s.ImageSize, draw.BiLinear)
	if err != nil {
		return nil, essentials.AddCtx("get sample", err)
	}
	res := &anysde.Sample{
		Image:     anyconv.ImageToTensor(s.Creator, img),
		Anomalous: entry.Anomalous,
	}
	if s.MaskSize == 0 {
		return res, nil
	}
	if entry.MaskPath == "" {
		res.Mask = s.Creator.MakeVector(s.MaskSize * s.MaskSize)
		return res, nil
	}
	mask, err := readImage(entry.MaskPath, s.MaskSize, draw.NearestNeighbor)
	if err != nil {
		return nil, essentials.AddCtx("get sample", err)
	}
	res.Mask = anyconv.MaskToTensor(s.Creator, mask)
	return res, nil
}

func readImage(path string, size int, scaler draw.Scaler) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, essentials.AddCtx(path, err)
	}
	res := image.NewRGBA(image.Rect(0, 0, size, size))
	scaler.Scale(res, res.Bounds(), img, img.Bounds(), draw.Src, nil)
	return res, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			res = append(res, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(res)
	return res, nil
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, e := range entries {
		if e.IsDir() {
			res = append(res, e.Name())
		}
	}
	slices.Sort(res)
	return res, nil
}
