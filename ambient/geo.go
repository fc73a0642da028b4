package ambient

import (
	"context"

	"github.com/rushteam/recsync/core"
)

// Geolocator 提供设备的大致位置。
// 用户拒绝授权时应返回 DENIED 错误，其他失败返回任意错误；调用方都会降级到默认城市。
type Geolocator interface {
	Locate(ctx context.Context) (core.Coordinates, error)
}

// GeolocatorFunc 把函数适配为 Geolocator
type GeolocatorFunc func(ctx context.Context) (core.Coordinates, error)

func (f GeolocatorFunc) Locate(ctx context.Context) (core.Coordinates, error) {
	return f(ctx)
}

// StaticGeolocator 总是返回固定坐标，用于无法定位的宿主（例如服务端渲染）
func StaticGeolocator(coords core.Coordinates) Geolocator {
	return GeolocatorFunc(func(context.Context) (core.Coordinates, error) {
		return coords, nil
	})
}

// ErrGeolocationDenied 表示用户拒绝了定位授权
var ErrGeolocationDenied = core.NewDomainError(core.ModuleAmbient, core.ErrorCodeDenied, "ambient: geolocation permission denied")
